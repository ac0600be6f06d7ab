package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Sign returns the hex HMAC-SHA256 of data in the encoding Dealerware signs:
// the JavaScript JSON.stringify form of the parsed value.
func Sign(secret string, data []byte) (string, error) {
	canonical, err := stringify(data)
	if err != nil {
		return "", err
	}
	return mac(secret, canonical), nil
}

// Verify checks signature against data in constant time. The signature may
// cover either the JSON.stringify form of data or its compact raw bytes.
func Verify(secret string, data []byte, signature string) bool {
	trimmed := bytes.TrimSpace(data)
	if secret == "" || signature == "" || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false
	}

	canonical, err := stringify(trimmed)
	if err != nil {
		return false
	}
	if hmac.Equal([]byte(mac(secret, canonical)), []byte(signature)) {
		return true
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return false
	}
	return hmac.Equal([]byte(mac(secret, compact.Bytes())), []byte(signature))
}

func mac(secret string, data []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// jsValue is a parsed JSON value that keeps object member order.
type jsValue struct {
	scalar string
	object *jsObject
	array  []*jsValue
	isArr  bool
}

type jsObject struct {
	keys   []string
	values map[string]*jsValue
}

// stringify re-encodes data the way JSON.parse followed by JSON.stringify
// would: no whitespace, shortest JavaScript number form, minimal string
// escaping, duplicate keys collapsed and integer keys ordered first.
func stringify(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readValue(dec)
	if err != nil {
		return nil, fmt.Errorf("parse data: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("parse data: trailing content")
	}
	var buf bytes.Buffer
	v.write(&buf)
	return buf.Bytes(), nil
}

func readValue(dec *json.Decoder) (*jsValue, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return readObject(dec)
		case '[':
			return readArray(dec)
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	case string:
		return &jsValue{scalar: quoteJS(t)}, nil
	case json.Number:
		return &jsValue{scalar: formatJSNumber(t)}, nil
	case bool:
		return &jsValue{scalar: strconv.FormatBool(t)}, nil
	case nil:
		return &jsValue{scalar: "null"}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func readObject(dec *json.Decoder) (*jsValue, error) {
	obj := &jsObject{values: make(map[string]*jsValue)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		val, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		if _, seen := obj.values[key]; !seen {
			obj.keys = append(obj.keys, key)
		}
		obj.values[key] = val
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return &jsValue{object: obj}, nil
}

func readArray(dec *json.Decoder) (*jsValue, error) {
	arr := &jsValue{isArr: true}
	for dec.More() {
		val, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		arr.array = append(arr.array, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}

func (v *jsValue) write(buf *bytes.Buffer) {
	switch {
	case v.object != nil:
		buf.WriteByte('{')
		for i, key := range v.object.orderedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(quoteJS(key))
			buf.WriteByte(':')
			v.object.values[key].write(buf)
		}
		buf.WriteByte('}')
	case v.isArr:
		buf.WriteByte('[')
		for i, elem := range v.array {
			if i > 0 {
				buf.WriteByte(',')
			}
			elem.write(buf)
		}
		buf.WriteByte(']')
	default:
		buf.WriteString(v.scalar)
	}
}

// orderedKeys lists array-index keys in ascending order, then the rest in
// insertion order.
func (o *jsObject) orderedKeys() []string {
	var indexes, names []string
	for _, k := range o.keys {
		if _, ok := arrayIndex(k); ok {
			indexes = append(indexes, k)
		} else {
			names = append(names, k)
		}
	}
	sort.Slice(indexes, func(i, j int) bool {
		a, _ := arrayIndex(indexes[i])
		b, _ := arrayIndex(indexes[j])
		return a < b
	})
	return append(indexes, names...)
}

func arrayIndex(key string) (uint64, bool) {
	if key == "" || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil || n == math.MaxUint32 {
		return 0, false
	}
	return n, true
}

func quoteJS(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// formatJSNumber renders n as JavaScript's Number.prototype.toString does.
func formatJSNumber(n json.Number) string {
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return string(n)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "null"
	}
	if f == 0 {
		return "0"
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = -f
	}

	// Shortest round-trip digits and decimal exponent: f = 0.digits * 10^point.
	e := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expPart, _ := strings.Cut(e, "e")
	digits := strings.Replace(mantissa, ".", "", 1)
	exp, _ := strconv.Atoi(expPart)
	k := len(digits)
	point := exp + 1

	var out string
	switch {
	case k <= point && point <= 21:
		out = digits + strings.Repeat("0", point-k)
	case 0 < point && point <= 21:
		out = digits[:point] + "." + digits[point:]
	case -6 < point && point <= 0:
		out = "0." + strings.Repeat("0", -point) + digits
	default:
		expSign := "+"
		if point-1 < 0 {
			expSign = "-"
		}
		abs := point - 1
		if abs < 0 {
			abs = -abs
		}
		if k == 1 {
			out = digits + "e" + expSign + strconv.Itoa(abs)
		} else {
			out = digits[:1] + "." + digits[1:] + "e" + expSign + strconv.Itoa(abs)
		}
	}
	return sign + out
}
