package types

import (
	"bytes"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// Epoch is the first millisecond of 2015, the zero point of snowflake timestamps.
const Epoch int64 = 1420070400000

// Snowflake is a 64-bit identifier whose upper 42 bits carry a millisecond
// timestamp relative to Epoch. Ordering by value is chronological ordering.
type Snowflake uint64

// Time returns the creation time encoded in the identifier.
func (s Snowflake) Time() time.Time {
	ms := int64(s>>22) + Epoch
	return time.UnixMilli(ms)
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// SnowflakeFromTime returns the smallest identifier created at t.
func SnowflakeFromTime(t time.Time) Snowflake {
	ms := t.UnixMilli() - Epoch
	if ms < 0 {
		return 0
	}
	return Snowflake(uint64(ms) << 22)
}

// ParseSnowflake parses a decimal identifier.
func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse snowflake %q: %w", s, err)
	}
	return Snowflake(v), nil
}

// UnmarshalJSON accepts the quoted-string form used on the wire, a bare
// number, or null. Unparseable values decode as zero.
func (s *Snowflake) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if data[0] == '"' {
		data = bytes.Trim(data, `"`)
	}
	if len(data) == 0 {
		*s = 0
		return nil
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		*s = 0
		return nil
	}
	*s = Snowflake(v)
	return nil
}

// MarshalJSON emits the quoted-string form.
func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// NonceSource mints provisional identifiers for locally created objects
// (pending messages, attachment reservations). Identifiers share the
// snowflake layout so they sort next to real ones created at the same time.
type NonceSource struct {
	counter atomic.Uint32
}

// Next returns a provisional identifier stamped with now.
func (n *NonceSource) Next(now time.Time) Snowflake {
	seq := n.counter.Add(1) & 0xFFF
	return SnowflakeFromTime(now) | Snowflake(seq)
}
