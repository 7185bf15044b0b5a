package ids

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"
)

// ID is a generated identifier. It crosses JSON boundaries as a decimal
// string so clients limited to 53-bit numbers keep full precision.
type ID uint64

// Parts are the decoded fields of an ID.
type Parts struct {
	Timestamp int64 // milliseconds since the generator epoch
	WorkerID  int64
	Sequence  int64
}

// Time converts the timestamp field to wall time for the given epoch.
func (p Parts) Time(epochMillis int64) time.Time {
	return time.UnixMilli(epochMillis + p.Timestamp).UTC()
}

// Decode splits id using DefaultLayout.
func Decode(id ID) Parts { return DefaultLayout.Decode(id) }

// Parse reads the canonical decimal form of an ID: digits only, no sign and
// no leading zeros, so every ID has exactly one spelling.
func Parse(s string) (ID, error) {
	if !canonicalDecimal(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(v), nil
}

func canonicalDecimal(s string) bool {
	if s == "" || (s[0] == '0' && len(s) > 1) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Int64 is the BIGINT representation. Bit 63 is never set so it is lossless.
func (id ID) Int64() int64 { return int64(id) }

func (id ID) IsZero() bool { return id == 0 }

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare number.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Value stores the id as BIGINT.
func (id ID) Value() (driver.Value, error) { return int64(id), nil }

// Scan reads a BIGINT (or its text form) into id.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		if v < 0 {
			return fmt.Errorf("%w: negative value %d", ErrInvalidID, v)
		}
		*id = ID(v)
		return nil
	case string:
		p, err := Parse(v)
		if err != nil {
			return err
		}
		*id = p
		return nil
	case []byte:
		p, err := Parse(string(v))
		if err != nil {
			return err
		}
		*id = p
		return nil
	case nil:
		*id = 0
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidID, src)
	}
}
