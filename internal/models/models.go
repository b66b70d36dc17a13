// Package models provides data model definitions for the fieldsync core.
//
// Every record that mirrors a server entity carries a sync envelope: a
// locally generated UUID primary key, the server-assigned identifier once
// the record has been pushed, and the flags the sync engine reads to decide
// what still needs to travel. Timestamps are stored as epoch milliseconds
// so dirty-vs-remote comparisons stay integer-only.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// NowMillis returns the current time as epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MillisToTime converts epoch milliseconds to time.Time.
// A zero value means "never" and maps to the zero time.
func MillisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// TimeToMillis converts a time.Time to epoch milliseconds.
// The zero time maps to 0.
func TimeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
