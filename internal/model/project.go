package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Project is a row of the remote projects table.
//
// The remote service owns this record; nothing is cached locally.
// ID and CreatedAt use small wrapper types because the remote schema is not
// ours: ids may be bigint or uuid, and timestamps may or may not carry a zone.
type Project struct {
	ID          ProjectID `json:"id,omitempty"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   Timestamp `json:"created_at"`
}

// ProjectID is a remote row id. It decodes from either a JSON number or a
// JSON string and always encodes as a string.
type ProjectID string

func (id *ProjectID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("model: decoding project id: %w", err)
		}
		*id = ProjectID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("model: decoding project id: %w", err)
	}
	*id = ProjectID(n.String())
	return nil
}

// ProjectIDFromInt formats a bigint primary key.
func ProjectIDFromInt(n int64) ProjectID {
	return ProjectID(strconv.FormatInt(n, 10))
}

// timestampLayouts are tried in order. Naive timestamps (no zone) are
// treated as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp is a time.Time that tolerates the timestamp shapes a Postgres
// REST gateway produces for both timestamptz and timestamp columns.
type Timestamp struct {
	time.Time
}

// NewTimestamp normalises t to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("model: decoding timestamp: %w", err)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("model: unrecognised timestamp %q", s)
}
