package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Time is a time.Time with the wire encoding used by the community backend.
//
// It decodes from an RFC 3339 string (with or without zone; naive values are
// taken as UTC), from Unix milliseconds, or from null. It encodes as an
// RFC 3339 UTC string with millisecond precision, and as null when zero.
type Time time.Time

const wireLayout = "2006-01-02T15:04:05.000Z07:00"

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Now returns the current time.
func Now() Time {
	return Time(time.Now())
}

// At converts t to a Time.
func At(t time.Time) Time {
	return Time(t)
}

// Time returns the underlying time.Time value.
func (t Time) Time() time.Time {
	return time.Time(t)
}

// IsZero reports whether t is the zero time instant.
func (t Time) IsZero() bool {
	return time.Time(t).IsZero()
}

// Before reports whether t is before u.
func (t Time) Before(u Time) bool {
	return time.Time(t).Before(time.Time(u))
}

// After reports whether t is after u.
func (t Time) After(u Time) bool {
	return time.Time(t).After(time.Time(u))
}

// Equal reports whether t and u are the same instant.
func (t Time) Equal(u Time) bool {
	return time.Time(t).Equal(time.Time(u))
}

func (t Time) String() string {
	if t.IsZero() {
		return ""
	}
	return time.Time(t).UTC().Format(wireLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Time{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return t.parse(s)
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("chat: time must be a string or unix milliseconds: %w", err)
	}
	*t = Time(time.UnixMilli(ms))
	return nil
}

func (t *Time) parse(s string) error {
	if s == "" {
		*t = Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		*t = Time(v)
		return nil
	}
	for _, layout := range naiveLayouts {
		if v, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			*t = Time(v)
			return nil
		}
	}
	return fmt.Errorf("chat: invalid time %q", s)
}

// EncodeMsgpack implements msgpack.CustomEncoder as Unix nanoseconds, zero
// meaning the zero time.
func (t Time) EncodeMsgpack(enc *msgpack.Encoder) error {
	if t.IsZero() {
		return enc.EncodeInt(0)
	}
	return enc.EncodeInt(time.Time(t).UnixNano())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (t *Time) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeInt64()
	if err != nil {
		return err
	}
	if n == 0 {
		*t = Time{}
		return nil
	}
	*t = Time(time.Unix(0, n))
	return nil
}
