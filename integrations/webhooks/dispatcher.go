package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskledger/core/events"
	"riskledger/core/types"
)

const (
	defaultMaxAttempts  = 5
	defaultMinBackoff   = 2 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultQueueSize    = 64
	defaultDrainTimeout = 10 * time.Second

	headerEvent     = "X-Riskledger-Event"
	headerSignature = "X-Riskledger-Signature"
	headerDelivery  = "X-Riskledger-Delivery"
)

var errDispatcherClosed = errors.New("webhook: dispatcher closed")

// DefaultTopics selects the risk-relevant events operators usually want
// pushed: score updates, guardian actions and liquidations.
var DefaultTopics = []string{"risk.", "guardian.", events.TypeLiquidated}

// Payload is the webhook body for one committed ledger event.
type Payload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
	DeliveryID string            `json:"deliveryId"`
}

// Dispatcher pushes committed events to an HTTP endpoint with HMAC signatures,
// retrying failed deliveries with exponential backoff.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	topics      []string
	logger      *slog.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	drain       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type delivery struct {
	eventType string
	id        string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithDrainTimeout bounds how long Close waits for queued deliveries before
// aborting them.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.drain = timeout
		}
	}
}

// WithTopics restricts deliveries to events whose type equals or starts with
// one of topics. An empty list forwards every event.
func WithTopics(topics ...string) Option {
	return func(d *Dispatcher) {
		d.topics = append([]string(nil), topics...)
	}
}

// WithLogger sets the logger used for dropped and failed deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		topics:      DefaultTopics,
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		drain:       defaultDrainTimeout,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	dispatcher.wg.Add(1)
	go dispatcher.worker()
	return dispatcher, nil
}

// Close stops accepting events and delivers everything already queued. Once
// the drain timeout expires, in-flight and remaining deliveries are aborted.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()
	timer := time.NewTimer(d.drain)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		d.logger.Warn("webhook drain timed out", slog.Duration("timeout", d.drain))
		d.cancel()
		<-drained
	}
	d.cancel()
}

func (d *Dispatcher) wants(eventType string) bool {
	if len(d.topics) == 0 {
		return true
	}
	for _, topic := range d.topics {
		if eventType == topic || (strings.HasSuffix(topic, ".") && strings.HasPrefix(eventType, topic)) {
			return true
		}
	}
	return false
}

// Emit implements events.Emitter. It never blocks: when the queue is full the
// event is dropped and logged.
func (d *Dispatcher) Emit(e events.Event) {
	if d == nil || e == nil || !d.wants(e.EventType()) {
		return
	}
	var evt *types.Event
	switch v := e.(type) {
	case *types.Event:
		evt = v.Clone()
	case interface{ Event() *types.Event }:
		evt = v.Event()
	default:
		evt = &types.Event{Type: e.EventType()}
	}
	if err := d.Enqueue(evt); err != nil {
		d.logger.Warn("webhook delivery dropped",
			slog.String("type", evt.Type),
			slog.Any("error", err))
	}
}

// Enqueue schedules evt for asynchronous delivery.
func (d *Dispatcher) Enqueue(evt *types.Event) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	if evt == nil {
		return errors.New("webhook: nil event")
	}
	payload := Payload{
		Type:       evt.Type,
		Attributes: evt.Attributes,
		EmittedAt:  time.Now().UTC(),
		DeliveryID: uuid.NewString(),
	}
	if payload.Attributes == nil {
		payload.Attributes = map[string]string{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errDispatcherClosed
	}
	select {
	case d.queue <- delivery{eventType: payload.Type, id: payload.DeliveryID, body: data}:
		return nil
	default:
		return errors.New("webhook: queue full")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	aborted := 0
	for job := range d.queue {
		if d.ctx.Err() != nil {
			aborted++
			continue
		}
		d.process(job)
	}
	if aborted > 0 {
		d.logger.Error("webhook deliveries abandoned at shutdown", slog.Int("count", aborted))
	}
}

func (d *Dispatcher) process(job delivery) {
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if d.ctx.Err() != nil {
			d.logger.Error("webhook delivery aborted",
				slog.String("type", job.eventType),
				slog.String("delivery", job.id),
				slog.Any("error", err))
			return
		}
		if attempt >= d.maxAttempts {
			d.logger.Error("webhook delivery failed",
				slog.String("type", job.eventType),
				slog.String("delivery", job.id),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			d.logger.Error("webhook delivery aborted",
				slog.String("type", job.eventType),
				slog.String("delivery", job.id),
				slog.Any("error", err))
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, job.eventType)
	req.Header.Set(headerDelivery, job.id)
	req.Header.Set(headerSignature, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value receivers recompute to
// authenticate body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
