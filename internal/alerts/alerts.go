package alerts

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/quantrail/trade-governor/internal/observ"
)

// Severity of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a user-facing notification. Critical alerts accompany halts and
// must be displayable as-is.
type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// New builds a stamped alert.
func New(severity Severity, title, message, source string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Severity:  severity,
		Title:     title,
		Message:   message,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// Config tunes the notifier.
type Config struct {
	WebhookURL    string
	QueueSize     int
	MaxRetries    int
	BackoffBase   time.Duration
	Timeout       time.Duration
	DedupeWindow  time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = time.Minute
	}
	return c
}

type queuedAlert struct {
	alert Alert
	hash  string
}

// Notifier delivers alerts to a webhook asynchronously: a bounded queue feeds
// one worker, retries back off, and duplicates within the window are skipped.
// With no webhook configured it degrades to structured logging only.
type Notifier struct {
	cfg    Config
	client *resty.Client

	mu     sync.Mutex
	dedupe map[string]time.Time

	queue  chan queuedAlert
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier starts the delivery worker.
func NewNotifier(cfg Config) *Notifier {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	n := &Notifier{
		cfg:    cfg,
		dedupe: make(map[string]time.Time),
		queue:  make(chan queuedAlert, cfg.QueueSize),
		cancel: cancel,
	}
	if cfg.WebhookURL != "" {
		n.client = resty.New().
			SetTimeout(cfg.Timeout).
			SetRetryCount(0) // retries are scheduled by the worker
	}
	n.wg.Add(1)
	go n.worker(ctx)
	return n
}

// Notify queues an alert for delivery. Critical alerts are always logged
// immediately, so a saturated queue or failing webhook never hides a halt.
func (n *Notifier) Notify(alert Alert) {
	if alert.ID == "" {
		alert = New(alert.Severity, alert.Title, alert.Message, alert.Source)
	}

	level := map[string]any{
		"alert_id": alert.ID,
		"severity": string(alert.Severity),
		"title":    alert.Title,
		"message":  alert.Message,
		"source":   alert.Source,
	}
	if alert.Severity == SeverityCritical {
		observ.Error("alert_critical", nil, level)
	} else {
		observ.Log("alert", level)
	}
	observ.IncCounter("alerts_generated_total", map[string]string{"severity": string(alert.Severity)})

	if n.client == nil {
		return
	}

	hash := dedupeHash(alert)
	n.mu.Lock()
	if last, ok := n.dedupe[hash]; ok && time.Since(last) < n.cfg.DedupeWindow {
		n.mu.Unlock()
		observ.IncCounter("alerts_deduped_total", nil)
		return
	}
	n.dedupe[hash] = time.Now()
	for k, at := range n.dedupe {
		if time.Since(at) > n.cfg.DedupeWindow {
			delete(n.dedupe, k)
		}
	}
	n.mu.Unlock()

	select {
	case n.queue <- queuedAlert{alert: alert, hash: hash}:
	default:
		observ.IncCounter("alerts_dropped_total", nil)
	}
}

// Close drains the worker.
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}

func (n *Notifier) worker(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case qa := <-n.queue:
			n.deliver(ctx, qa.alert)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, alert Alert) {
	var lastErr error
	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := n.cfg.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
		resp, err := n.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(alert).
			Post(n.cfg.WebhookURL)
		if err == nil && resp.IsSuccess() {
			observ.IncCounter("alerts_delivered_total", nil)
			return
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("webhook returned %s", resp.Status())
		}
	}
	observ.IncCounter("alerts_delivery_failures_total", nil)
	observ.Error("alert_delivery_failed", lastErr, map[string]any{"alert_id": alert.ID})
}

func dedupeHash(a Alert) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", a.Severity, a.Title, a.Message)))
	return fmt.Sprintf("%x", sum)[:16]
}
