package alerts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyWithoutWebhookLogsOnly(t *testing.T) {
	n := NewNotifier(Config{})
	defer n.Close()

	// No webhook configured: nothing to deliver, nothing to panic on.
	n.Notify(New(SeverityCritical, "Hard pull", "day loss breached", "overseer"))
	n.Notify(Alert{Severity: SeverityInfo, Title: "fyi", Message: "m", Source: "test"})
}

func TestNotifierDeliversToWebhook(t *testing.T) {
	var calls int32
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var a Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		lastBody.Store(a)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(Config{WebhookURL: srv.URL, BackoffBase: time.Millisecond})
	defer n.Close()

	n.Notify(New(SeverityHigh, "Concentration watch", "NVDA at 31%", "monarch"))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := lastBody.Load().(Alert)
	assert.Equal(t, SeverityHigh, got.Severity)
	assert.Equal(t, "monarch", got.Source)
}

func TestNotifierRetriesFailedDelivery(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(Config{WebhookURL: srv.URL, MaxRetries: 3, BackoffBase: time.Millisecond})
	defer n.Close()

	n.Notify(New(SeverityCritical, "Hard pull", "emergency", "overseer"))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifierDedupesInsideWindow(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(Config{WebhookURL: srv.URL, DedupeWindow: time.Minute})
	defer n.Close()

	for i := 0; i < 5; i++ {
		n.Notify(Alert{Severity: SeverityHigh, Title: "same", Message: "same", Source: "test"})
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
