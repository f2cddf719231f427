package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string, created time.Time) BotRecord {
	return BotRecord{
		ID:               id,
		Name:             "bot-" + id,
		Strategy:         "momentum",
		Mode:             "paper",
		Status:           "idle",
		Symbols:          "AAPL,MSFT",
		AllocatedCapital: 5000,
		MinConfidence:    0.65,
		MaxPositions:     5,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, fs.SaveBot(ctx, record("b", now.Add(time.Minute))))
	require.NoError(t, fs.SaveBot(ctx, record("a", now)))

	// A second store over the same file sees both, ordered by creation.
	fs2, err := NewFileStore(path)
	require.NoError(t, err)
	bots, err := fs2.LoadBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, "a", bots[0].ID)
	assert.Equal(t, "b", bots[1].ID)
	assert.Equal(t, "AAPL,MSFT", bots[0].Symbols)
}

func TestFileStoreSaveIsUpsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	rec := record("a", time.Now().UTC())
	require.NoError(t, fs.SaveBot(ctx, rec))
	rec.Status = "error"
	rec.LastError = "tick failed"
	require.NoError(t, fs.SaveBot(ctx, rec))

	bots, err := fs.LoadBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, "error", bots[0].Status)
	assert.Equal(t, "tick failed", bots[0].LastError)
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.SaveBot(ctx, record("a", time.Now().UTC())))
	require.NoError(t, fs.DeleteBot(ctx, "a"))
	require.NoError(t, fs.DeleteBot(ctx, "missing")) // idempotent

	bots, err := fs.LoadBots(ctx)
	require.NoError(t, err)
	assert.Empty(t, bots)

	// No stray temp file left behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}
