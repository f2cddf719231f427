package audit

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Filter narrows a query. Zero values match everything.
type Filter struct {
	EntityType EntityType
	EntityID   string
	Since      time.Time
	Until      time.Time
	Limit      int
}

func (f Filter) matches(e Entry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Entries returns matching entries, newest first, bounded by Limit.
func (r *Recorder) Entries(f Filter) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if !f.matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

var csvHeader = []string{
	"id", "timestamp", "entity_type", "entity_id", "action",
	"description", "session_id", "payload", "prev_hash", "hash",
}

// ExportCSV writes entries inside [from, to] to w in chronological order.
func (r *Recorder) ExportCSV(w io.Writer, from, to time.Time) error {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if (Filter{Since: from, Until: to}).matches(e) {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()
	return WriteCSV(w, entries)
}

// WriteCSV renders entries as flat CSV rows.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		payload := ""
		if len(e.Payload) > 0 {
			b, err := json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("marshal payload for %s: %w", e.ID, err)
			}
			payload = string(b)
		}
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			string(e.EntityType),
			e.EntityID,
			e.Action,
			e.Description,
			e.SessionID,
			payload,
			e.PrevHash,
			e.Hash,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFile loads a JSONL audit trail, skipping blank lines. Malformed lines
// are an error here: the file is a compliance artifact, not best-effort state.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("line %s: %w", strconv.Itoa(line), err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
