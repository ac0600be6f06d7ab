package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

const dateLayout = "2006-01-02"

// Layouts accepted from the hosted datastore and from webhook payloads.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05",
}

// Timestamp is a nullable column value holding either an instant or a
// calendar date. Date-only values round-trip as "2006-01-02".
type Timestamp struct {
	time.Time
	DateOnly bool
}

// At returns a Timestamp for the instant t in UTC.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// DateOf returns the UTC calendar date of t.
func DateOf(t time.Time) Timestamp {
	y, m, d := t.UTC().Date()
	return Timestamp{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), DateOnly: true}
}

// ParseTimestamp parses an RFC3339 timestamp, a zone-less timestamp (taken as
// UTC) or a date.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if len(s) == len(dateLayout) {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return Timestamp{}, fmt.Errorf("invalid date %q: %w", s, err)
		}
		return Timestamp{Time: t, DateOnly: true}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return At(t), nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// String formats the value the way it is written to the datastore.
func (ts Timestamp) String() string {
	if ts.IsZero() {
		return ""
	}
	if ts.DateOnly {
		return ts.Format(dateLayout)
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		*ts = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// MarshalBSONValue stores instants as BSON datetimes and dates as strings.
func (ts Timestamp) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if ts.IsZero() {
		return bsontype.Null, nil, nil
	}
	if ts.DateOnly {
		return bsontype.String, bsoncore.AppendString(nil, ts.String()), nil
	}
	return bsontype.DateTime, bsoncore.AppendDateTime(nil, ts.UnixMilli()), nil
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (ts *Timestamp) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	v := bsoncore.Value{Type: t, Data: data}
	switch t {
	case bsontype.Null, bsontype.Undefined:
		*ts = Timestamp{}
		return nil
	case bsontype.DateTime:
		ms, ok := v.DateTimeOK()
		if !ok {
			return fmt.Errorf("malformed bson datetime")
		}
		*ts = At(time.UnixMilli(ms))
		return nil
	case bsontype.String:
		s, ok := v.StringValueOK()
		if !ok {
			return fmt.Errorf("malformed bson string")
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		*ts = parsed
		return nil
	default:
		return fmt.Errorf("cannot decode bson %s into Timestamp", t)
	}
}

// Scan implements sql.Scanner.
func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts = Timestamp{}
		return nil
	case time.Time:
		*ts = At(v)
		return nil
	case []byte:
		return ts.scanString(string(v))
	case string:
		return ts.scanString(v)
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
}

func (ts *Timestamp) scanString(s string) error {
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

// Value implements driver.Valuer.
func (ts Timestamp) Value() (driver.Value, error) {
	if ts.IsZero() {
		return nil, nil
	}
	if ts.DateOnly {
		return ts.String(), nil
	}
	return ts.UTC(), nil
}
