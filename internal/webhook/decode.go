package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ukydev/loaner-command-center/internal/models"
)

// errNotNumeric is returned for number fields that hold neither a JSON
// number nor a numeric string.
var errNotNumeric = errors.New("not a number")

// parseLoose reads a JSON number or a numeric string. It reports ok=false for
// null and the empty string.
func parseLoose(b []byte) (f float64, ok bool, err error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return 0, false, nil
	}
	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return 0, false, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false, nil
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return 0, false, errNotNumeric
		}
		s = n.String()
	}
	f, err = strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false, fmt.Errorf("%q: %w", s, errNotNumeric)
	}
	return f, true, nil
}

// looseFloat is a float field that also accepts a numeric string.
type looseFloat struct {
	value *float64
}

func (l *looseFloat) UnmarshalJSON(b []byte) error {
	f, ok, err := parseLoose(b)
	if err != nil {
		return err
	}
	l.value = nil
	if ok {
		l.value = &f
	}
	return nil
}

// Ptr returns the decoded value, or nil when the field was absent.
func (l looseFloat) Ptr() *float64 { return l.value }

// looseInt is an integer field that also accepts a numeric string. Values
// with a fractional part are rejected.
type looseInt struct {
	value *int
}

func (l *looseInt) UnmarshalJSON(b []byte) error {
	f, ok, err := parseLoose(b)
	if err != nil {
		return err
	}
	l.value = nil
	if !ok {
		return nil
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("%v: not an integer", f)
	}
	n := int(f)
	l.value = &n
	return nil
}

func (l looseInt) Ptr() *int { return l.value }

// maxEpochMillis bounds numeric timestamps to the range JavaScript dates cover.
const maxEpochMillis = 8.64e15

// eventTimestamp resolves the delivery timestamp. A missing, null or empty
// value means now; a string is parsed as a timestamp; a number is Unix epoch
// milliseconds.
func eventTimestamp(raw json.RawMessage, now time.Time) (models.Timestamp, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.At(now), nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.Timestamp{}, err
		}
		if strings.TrimSpace(s) == "" {
			return models.At(now), nil
		}
		return models.ParseTimestamp(s)
	case '{', '[', 't', 'f':
		return models.Timestamp{}, fmt.Errorf("unsupported timestamp %s", raw)
	}
	var ms json.Number
	if err := json.Unmarshal(raw, &ms); err != nil {
		return models.Timestamp{}, err
	}
	n, err := ms.Float64()
	if err != nil || math.Abs(n) > maxEpochMillis {
		return models.Timestamp{}, fmt.Errorf("invalid epoch timestamp %s", raw)
	}
	return models.At(time.UnixMilli(int64(n))), nil
}
