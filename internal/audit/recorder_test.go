package audit

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordChainsEntries(t *testing.T) {
	r, err := New(Config{MaxEntries: 100, SessionID: "s-1"})
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Record(EntityTrade, "t-1", "governance_decision", "approved", map[string]any{"verdict": "approved"})
	require.NoError(t, err)
	second, err := r.Record(EntityRisk, "", "soft_pull", "concentration high", nil)
	require.NoError(t, err)

	assert.Empty(t, first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Equal(t, second.Hash, r.LastHash())
	assert.Equal(t, "s-1", first.SessionID)
	require.NoError(t, r.VerifyChain())
}

func TestVerifyDetectsTamper(t *testing.T) {
	r, err := New(Config{MaxEntries: 100})
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 3; i++ {
		_, err := r.Record(EntityTrade, "t", "a", "d", nil)
		require.NoError(t, err)
	}
	entries := r.Entries(Filter{})
	require.Len(t, entries, 3)

	// Entries() returns newest first; rebuild chronological order and edit one.
	chrono := []Entry{entries[2], entries[1], entries[0]}
	chrono[1].Description = "rewritten"

	err = VerifyEntries(chrono)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHashMismatch)

	// Dropping a middle entry breaks linkage.
	gapped := []Entry{chrono[0], chrono[2]}
	assert.ErrorIs(t, VerifyEntries(gapped), ErrChainBroken)
}

func TestEvictionKeepsBoundAndChain(t *testing.T) {
	r, err := New(Config{MaxEntries: 10})
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 25; i++ {
		_, err := r.Record(EntitySystem, "", "tick", "n", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 10, r.Len())
	// The retained suffix still verifies: the oldest survivor's PrevHash is
	// accepted because its predecessor was evicted.
	require.NoError(t, r.VerifyChain())
}

func TestRecordAfterClose(t *testing.T) {
	r, err := New(Config{MaxEntries: 10})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Record(EntityTrade, "t", "a", "d", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	r, err := New(Config{MaxEntries: 100, LogPath: path, SessionID: "s-9"})
	require.NoError(t, err)

	_, err = r.Record(EntityTrade, "t-1", "governance_decision", "ok", map[string]any{"qty": 5.0})
	require.NoError(t, err)
	_, err = r.Record(EntityAlert, "a-1", "alert_sent", "high sev", nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	entries, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NoError(t, VerifyEntries(entries))
	assert.Equal(t, EntityTrade, entries[0].EntityType)
	assert.Equal(t, 5.0, entries[0].Payload["qty"])
}

func TestStructPayloadVerifiesAfterReload(t *testing.T) {
	type limits struct {
		MaxDailyTrades int     `json:"max_daily_trades"`
		LargeTradeUSD  float64 `json:"large_trade_usd"`
	}
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	r, err := New(Config{MaxEntries: 100, LogPath: path, SessionID: "s-9"})
	require.NoError(t, err)

	// Struct and int payload values marshal in declaration order at record
	// time but reload as alphabetically-keyed maps; the stored hash must
	// match either way.
	recorded, err := r.Record(EntityRisk, "", "risk_limits_updated", "limits changed", map[string]any{
		"actor":    "ops",
		"previous": limits{MaxDailyTrades: 20, LargeTradeUSD: 10000},
		"current":  limits{MaxDailyTrades: 5, LargeTradeUSD: 2500},
		"window":   3,
	})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	reloaded, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, reloaded, 1)
	require.NoError(t, VerifyEntries(reloaded))
	assert.Equal(t, recorded.Hash, HashEntry(reloaded[0]))
}

func TestEntriesFilter(t *testing.T) {
	r, err := New(Config{MaxEntries: 100})
	require.NoError(t, err)
	defer r.Close()

	_, _ = r.Record(EntityTrade, "t-1", "a", "d", nil)
	_, _ = r.Record(EntityTrade, "t-2", "a", "d", nil)
	_, _ = r.Record(EntityRisk, "", "soft_pull", "d", nil)

	assert.Len(t, r.Entries(Filter{EntityType: EntityTrade}), 2)
	assert.Len(t, r.Entries(Filter{EntityID: "t-2"}), 1)
	assert.Len(t, r.Entries(Filter{Limit: 1}), 1)
	assert.Empty(t, r.Entries(Filter{Until: time.Now().UTC().Add(-time.Hour)}))

	// Newest first.
	all := r.Entries(Filter{})
	require.Len(t, all, 3)
	assert.Equal(t, "soft_pull", all[0].Action)
}

func TestExportCSV(t *testing.T) {
	r, err := New(Config{MaxEntries: 100})
	require.NoError(t, err)
	defer r.Close()

	_, _ = r.Record(EntityTrade, "t-1", "governance_decision", "approved", nil)
	_, _ = r.Record(EntityRisk, "", "hard_pull", "day loss", nil)

	var buf bytes.Buffer
	require.NoError(t, r.ExportCSV(&buf, time.Time{}, time.Now().UTC().Add(time.Minute)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3) // header + 2 rows
	assert.Contains(t, lines[0], "entity_type")
	// Chronological order in exports.
	assert.Contains(t, lines[1], "governance_decision")
	assert.Contains(t, lines[2], "hard_pull")
}

func TestReadFileRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	r, err := New(Config{MaxEntries: 10, LogPath: path})
	require.NoError(t, err)
	_, _ = r.Record(EntityTrade, "t", "a", "d", nil)
	require.NoError(t, r.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = ReadFile(path)
	assert.Error(t, err)
}
