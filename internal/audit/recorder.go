package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantrail/trade-governor/internal/observ"
)

// EntityType classifies what an audit entry is about.
type EntityType string

const (
	EntityTrade   EntityType = "trade"
	EntityAlert   EntityType = "alert"
	EntityAnalyst EntityType = "analyst"
	EntityRisk    EntityType = "risk"
	EntitySystem  EntityType = "system"
)

const schemaVersion = 1

var (
	ErrClosed       = errors.New("recorder closed")
	ErrChainBroken  = errors.New("audit chain broken")
	ErrHashMismatch = errors.New("audit entry hash mismatch")
)

// Entry is one immutable audit record. Entries form a hash chain: each Hash
// covers the previous entry's Hash, so reordering or editing the log is
// detectable. Corrections are new entries referencing the original EntityID.
type Entry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	EntityType    EntityType     `json:"entity_type"`
	EntityID      string         `json:"entity_id,omitempty"`
	Action        string         `json:"action"`
	Description   string         `json:"description"`
	Payload       map[string]any `json:"payload,omitempty"`
	SessionID     string         `json:"session_id"`
	SchemaVersion int            `json:"schema_version"`
	PrevHash      string         `json:"prev_hash"`
	Hash          string         `json:"hash"`
}

// Config controls retention and persistence.
type Config struct {
	MaxEntries int    // ring bound, FIFO eviction (default 10000)
	LogPath    string // JSONL trail; empty disables persistence
	SessionID  string
	QueueSize  int // persistence queue depth (default 1024)
}

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	return c
}

// Recorder owns the append-only audit log. All writers serialize through
// Record; readers get copies. Disk persistence runs on a dedicated goroutine
// so eviction and file I/O never block writers.
type Recorder struct {
	cfg Config

	mu       sync.RWMutex
	entries  []Entry
	lastHash string

	ch       chan Entry
	wg       sync.WaitGroup
	writeErr atomic.Value
	closed   uint32
}

// New creates a recorder and starts its persistence loop when LogPath is set.
func New(cfg Config) (*Recorder, error) {
	cfg = cfg.withDefaults()
	r := &Recorder{
		cfg:     cfg,
		entries: make([]Entry, 0, cfg.MaxEntries),
	}
	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
		r.ch = make(chan Entry, cfg.QueueSize)
		r.wg.Add(1)
		go r.persistLoop()
	}
	return r, nil
}

// Record appends one entry and returns it with its chain hash filled in.
// entityID may be empty for system-wide events.
func (r *Recorder) Record(entity EntityType, entityID, action, description string, payload map[string]any) (Entry, error) {
	if atomic.LoadUint32(&r.closed) != 0 {
		return Entry{}, ErrClosed
	}

	r.mu.Lock()
	e := Entry{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		EntityType:    entity,
		EntityID:      entityID,
		Action:        action,
		Description:   description,
		Payload:       canonicalPayload(payload),
		SessionID:     r.cfg.SessionID,
		SchemaVersion: schemaVersion,
		PrevHash:      r.lastHash,
	}
	e.Hash = HashEntry(e)
	r.lastHash = e.Hash

	r.entries = append(r.entries, e)
	if over := len(r.entries) - r.cfg.MaxEntries; over > 0 {
		// FIFO eviction of the oldest; the retained chain stays verifiable
		// because each entry still carries its predecessor's hash.
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
		observ.IncCounterBy("audit_entries_evicted_total", nil, int64(over))
	}
	r.mu.Unlock()

	if r.ch != nil {
		select {
		case r.ch <- e:
		default:
			// Persistence is behind; memory stays authoritative for queries
			// and the operator is paged via Err().
			r.writeErr.CompareAndSwap(nil, fmt.Errorf("audit persistence queue full"))
			observ.IncCounter("audit_persist_dropped_total", nil)
		}
	}

	observ.IncCounter("audit_entries_total", map[string]string{"entity_type": string(entity), "action": action})
	return e, nil
}

// Err reports the first persistence failure, if any. A non-nil result means
// the durable trail is incomplete and must surface to an operator.
func (r *Recorder) Err() error {
	if v := r.writeErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Len returns the number of retained entries.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// LastHash returns the chain head hash.
func (r *Recorder) LastHash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastHash
}

// VerifyChain recomputes every retained entry's hash and checks linkage.
// The oldest retained entry's PrevHash is not checked: its predecessor may
// have been evicted.
func (r *Recorder) VerifyChain() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return VerifyEntries(r.entries)
}

// Close flushes the persistence queue and stops the recorder.
func (r *Recorder) Close() error {
	if !atomic.CompareAndSwapUint32(&r.closed, 0, 1) {
		return nil
	}
	if r.ch != nil {
		close(r.ch)
		r.wg.Wait()
	}
	return r.Err()
}

func (r *Recorder) persistLoop() {
	defer r.wg.Done()
	for e := range r.ch {
		if err := appendJSONL(r.cfg.LogPath, e); err != nil {
			r.writeErr.CompareAndSwap(nil, err)
			observ.IncCounter("audit_persist_errors_total", nil)
			observ.Error("audit_persist_failed", err, map[string]any{"entry_id": e.ID})
		}
	}
}

// canonicalPayload reduces a payload to plain JSON types (objects, arrays,
// strings, float64, bool, nil) before hashing. Struct and integer values
// marshal differently before and after a JSONL reload, so hashing them raw
// would make a valid trail fail verification.
func canonicalPayload(payload map[string]any) map[string]any {
	if len(payload) == 0 {
		return payload
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var plain map[string]any
	if err := json.Unmarshal(b, &plain); err != nil {
		return payload
	}
	return plain
}

func appendJSONL(path string, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\n", b); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// HashEntry computes the integrity hash for an entry. The hash covers the
// predecessor hash plus every identity field; payload maps marshal with
// sorted keys, so the digest is deterministic.
func HashEntry(e Entry) string {
	material := struct {
		PrevHash    string         `json:"prev_hash"`
		Timestamp   time.Time      `json:"timestamp"`
		EntityType  EntityType     `json:"entity_type"`
		EntityID    string         `json:"entity_id"`
		Action      string         `json:"action"`
		Description string         `json:"description"`
		Payload     map[string]any `json:"payload"`
		SessionID   string         `json:"session_id"`
	}{e.PrevHash, e.Timestamp, e.EntityType, e.EntityID, e.Action, e.Description, e.Payload, e.SessionID}

	b, _ := json.Marshal(material)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// VerifyEntries checks an ordered slice of entries for hash and linkage
// integrity. The first entry's PrevHash is accepted as-is.
func VerifyEntries(entries []Entry) error {
	for i, e := range entries {
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return fmt.Errorf("%w: entry %s does not link to %s", ErrChainBroken, e.ID, entries[i-1].ID)
		}
		if HashEntry(e) != e.Hash {
			return fmt.Errorf("%w: entry %s", ErrHashMismatch, e.ID)
		}
	}
	return nil
}
