package overseer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantrail/trade-governor/internal/audit"
	"github.com/quantrail/trade-governor/internal/bus"
	"github.com/quantrail/trade-governor/internal/portfolio"
)

type stubProvider struct {
	mu      sync.Mutex
	summary portfolio.Summary
	metrics portfolio.RiskMetrics
	err     error
}

func (s *stubProvider) Summary(context.Context) (portfolio.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary, s.err
}

func (s *stubProvider) RiskMetrics(context.Context) (portfolio.RiskMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics, s.err
}

type fakeHalter struct {
	mu       sync.Mutex
	haltAll  int
	reduce   int
	resume   int
	reasons  []string
}

func (f *fakeHalter) HaltAll(_ context.Context, reason string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.haltAll++
	f.reasons = append(f.reasons, reason)
	return []string{"bot-1", "bot-2"}
}

func (f *fakeHalter) ReduceExposure(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reduce++
	f.reasons = append(f.reasons, reason)
}

func (f *fakeHalter) ResumeExposure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resume++
}

func newTestOverseer(t *testing.T, provider portfolio.Provider, halter Halter) (*Overseer, *audit.Recorder) {
	t.Helper()
	recorder, err := audit.New(audit.Config{MaxEntries: 100})
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })
	return New(Config{}, provider, halter, recorder, nil), recorder
}

func TestHardPullEntersEmergencyAndHaltsAll(t *testing.T) {
	provider := &stubProvider{summary: portfolio.Summary{Equity: 79000, DayChangePct: -21}}
	halter := &fakeHalter{}
	o, recorder := newTestOverseer(t, provider, halter)

	o.CheckNow(context.Background())

	assert.True(t, o.EmergencyActive())
	assert.Equal(t, 1, halter.haltAll)
	assert.Equal(t, 0, halter.reduce)

	entries := recorder.Entries(audit.Filter{EntityType: audit.EntityRisk})
	require.Len(t, entries, 1)
	assert.Equal(t, "hard_pull", entries[0].Action)
	assert.Contains(t, entries[0].Description, "-21.0%")
}

func TestEmergencyModeIsOneWay(t *testing.T) {
	provider := &stubProvider{summary: portfolio.Summary{Equity: 79000, DayChangePct: -21}}
	halter := &fakeHalter{}
	o, _ := newTestOverseer(t, provider, halter)

	o.CheckNow(context.Background())
	require.True(t, o.EmergencyActive())

	// Recovery in the numbers does not lift emergency mode.
	provider.mu.Lock()
	provider.summary.DayChangePct = 2
	provider.mu.Unlock()
	o.CheckNow(context.Background())
	assert.True(t, o.EmergencyActive())

	// Only an explicit operator reset does.
	require.NoError(t, o.ClearEmergencyMode("ops", "verified books"))
	assert.False(t, o.EmergencyActive())
	assert.Equal(t, 1, halter.resume)

	assert.ErrorIs(t, o.ClearEmergencyMode("ops", "again"), ErrNotInEmergency)
}

func TestAtMostOneActionPerTick(t *testing.T) {
	// Both the hard and soft conditions hold; only the hard pull fires.
	provider := &stubProvider{
		summary: portfolio.Summary{Equity: 70000, DayChangePct: -30},
		metrics: portfolio.RiskMetrics{ConcentrationRisk: 90, IntradayLossPct: 30},
	}
	halter := &fakeHalter{}
	o, _ := newTestOverseer(t, provider, halter)

	o.CheckNow(context.Background())

	assert.Equal(t, 1, halter.haltAll)
	assert.Equal(t, 0, halter.reduce)
}

func TestSoftPullOnConcentration(t *testing.T) {
	provider := &stubProvider{
		summary: portfolio.Summary{Equity: 100000, DayChangePct: -1},
		metrics: portfolio.RiskMetrics{ConcentrationRisk: 45},
	}
	halter := &fakeHalter{}
	o, recorder := newTestOverseer(t, provider, halter)

	o.CheckNow(context.Background())

	assert.False(t, o.EmergencyActive())
	assert.Equal(t, 1, halter.reduce)

	// Within the cooldown the same condition does not re-fire.
	o.CheckNow(context.Background())
	assert.Equal(t, 1, halter.reduce)

	entries := recorder.Entries(audit.Filter{EntityType: audit.EntityRisk})
	require.Len(t, entries, 1)
	assert.Equal(t, "soft_pull", entries[0].Action)
}

func TestSoftPullOnIntradayLoss(t *testing.T) {
	provider := &stubProvider{
		summary: portfolio.Summary{Equity: 89000, DayChangePct: -11},
		metrics: portfolio.RiskMetrics{IntradayLossPct: 11},
	}
	halter := &fakeHalter{}
	o, _ := newTestOverseer(t, provider, halter)

	o.CheckNow(context.Background())

	assert.False(t, o.EmergencyActive())
	assert.Equal(t, 1, halter.reduce)
	assert.Equal(t, 0, halter.haltAll)
}

func TestProviderErrorTakesNoAction(t *testing.T) {
	provider := &stubProvider{err: errors.New("feed down")}
	halter := &fakeHalter{}
	o, _ := newTestOverseer(t, provider, halter)

	o.CheckNow(context.Background())

	assert.False(t, o.EmergencyActive())
	assert.Equal(t, 0, halter.haltAll)
	assert.Equal(t, 0, halter.reduce)
}

func TestClearEmergencyPublishesReset(t *testing.T) {
	provider := &stubProvider{summary: portfolio.Summary{Equity: 70000, DayChangePct: -25}}
	halter := &fakeHalter{}
	recorder, err := audit.New(audit.Config{MaxEntries: 100})
	require.NoError(t, err)
	defer recorder.Close()

	events := bus.New(16)
	var mu sync.Mutex
	var resets []bus.EmergencyResetEvent
	require.NoError(t, events.Subscribe(bus.TopicEmergencyReset, func(e bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		resets = append(resets, e.(bus.EmergencyResetEvent))
	}))

	o := New(Config{}, provider, halter, recorder, events)
	o.CheckNow(context.Background())
	require.True(t, o.EmergencyActive())
	require.NoError(t, o.ClearEmergencyMode("ops", "manual review done"))
	events.Close()

	require.Len(t, resets, 1)
	assert.Equal(t, "ops", resets[0].Operator)
	assert.WithinDuration(t, time.Now().UTC(), resets[0].ResetAt, time.Minute)
}
