package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/metrics"
	"github.com/clawbuds/backend/internal/storage"
)

const (
	// maxAttempts = 1 initial delivery + 3 retries.
	maxAttempts = 4

	// attemptTimeout aborts a single delivery attempt.
	attemptTimeout = 10 * time.Second

	// responseBodyLimit truncates persisted response bodies.
	responseBodyLimit = 1024

	queueSize = 1000
)

// defaultRetryDelays[attempt-1] is the wait before attempt+1.
var defaultRetryDelays = [maxAttempts - 1]time.Duration{10 * time.Second, 60 * time.Second, 300 * time.Second}

// Envelope is the wire body POSTed to webhook endpoints. Subscribers verify
// the signature header against these exact bytes.
type Envelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Dispatcher fans bus events out to subscribed webhook endpoints through a
// bounded worker pool. Delivery state (failure counts, the active flag) lives
// in storage and is re-read before every attempt, so disabling a webhook
// mid-retry stops the remaining attempts.
type Dispatcher struct {
	store       *storage.Store
	client      *http.Client
	queue       chan *deliveryJob
	met         *metrics.Metrics
	log         zerolog.Logger
	workers     int
	retryDelays [maxAttempts - 1]time.Duration
	validate    func(string) error

	wg     sync.WaitGroup
	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

type deliveryJob struct {
	webhookID string
	eventType string
	body      []byte // marshaled envelope, stable across retries
	attempt   int
}

// NewDispatcher starts the worker pool. Call Close to drain it.
func NewDispatcher(store *storage.Store, workers int, met *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &Dispatcher{
		store:       store,
		client:      &http.Client{Timeout: attemptTimeout},
		queue:       make(chan *deliveryJob, queueSize),
		met:         met,
		log:         log.With().Str("component", "webhook_dispatcher").Logger(),
		workers:     workers,
		retryDelays: defaultRetryDelays,
		validate:    ValidateURL,
		timers:      make(map[*time.Timer]struct{}),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Start subscribes the dispatcher to the bus. Returns the unsubscribe func.
func (d *Dispatcher) Start(bus *events.Bus) func() {
	return bus.SubscribeAll("webhook_dispatcher", func(ctx context.Context, evt events.Event) {
		d.route(ctx, evt)
	})
}

// route resolves which webhooks receive evt and enqueues one job per hook.
// Runs on the publisher's goroutine, so it only does the storage lookup and
// the (cheap) marshal; all network I/O happens on the pool.
func (d *Dispatcher) route(ctx context.Context, evt events.Event) {
	if len(evt.Recipients) == 0 {
		return
	}
	hooks, err := d.store.ListActiveOutgoingWebhooks(ctx, evt.Recipients)
	if err != nil {
		d.log.Error().Err(err).Str("event_type", string(evt.Type)).Msg("webhook lookup failed")
		return
	}
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(Envelope{
		Event:     string(evt.Type),
		Timestamp: evt.OccurredAt,
		Data:      evt.Data,
	})
	if err != nil {
		d.log.Error().Err(err).Str("event_type", string(evt.Type)).Msg("marshal envelope failed")
		return
	}

	for _, w := range hooks {
		if !w.Matches(string(evt.Type)) {
			continue
		}
		d.enqueue(&deliveryJob{webhookID: w.ID, eventType: string(evt.Type), body: body, attempt: 1})
	}
}

func (d *Dispatcher) enqueue(job *deliveryJob) {
	select {
	case d.queue <- job:
	default:
		d.log.Warn().
			Str("webhook_id", job.webhookID).
			Str("event_type", job.eventType).
			Msg("webhook queue full, dropping delivery")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

// deliver runs one attempt and schedules the next retry on failure.
func (d *Dispatcher) deliver(job *deliveryJob) {
	ctx, cancel := context.WithTimeout(context.Background(), attemptTimeout)
	defer cancel()

	// Re-read state: the webhook may have been disabled or deleted since
	// the job was queued.
	w, err := d.store.GetWebhook(ctx, job.webhookID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			d.log.Error().Err(err).Str("webhook_id", job.webhookID).Msg("webhook re-read failed")
		}
		return
	}
	if !w.Active {
		d.log.Debug().Str("webhook_id", w.ID).Int("attempt", job.attempt).Msg("webhook inactive, abandoning retries")
		return
	}
	if err := d.validate(w.URL); err != nil {
		// URL mutated into a forbidden target after registration.
		d.met.WebhookDeliveries.WithLabelValues("rejected_url").Inc()
		d.recordAttempt(ctx, w, job, nil, "", "forbidden url: "+err.Error(), false)
		d.recordFailure(ctx, w, job, nil)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(job.body))
	if err != nil {
		d.recordAttempt(ctx, w, job, nil, "", "build request: "+err.Error(), false)
		d.recordFailure(ctx, w, job, nil)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, job.eventType)
	req.Header.Set(HeaderSignature, SignPayload(job.body, w.Secret))
	req.Header.Set(HeaderDelivery, xid.New().String())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))

	started := time.Now()
	resp, err := d.client.Do(req)
	d.met.WebhookDeliverySeconds.Observe(time.Since(started).Seconds())

	if err != nil {
		d.met.WebhookDeliveries.WithLabelValues("failure").Inc()
		d.recordAttempt(ctx, w, job, nil, "", err.Error(), false)
		d.recordFailure(ctx, w, job, nil)
		return
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	status := resp.StatusCode

	if status >= 200 && status < 300 {
		d.met.WebhookDeliveries.WithLabelValues("success").Inc()
		d.recordAttempt(ctx, w, job, &status, string(snippet), "", true)
		if err := d.store.RecordWebhookSuccess(ctx, w.ID, status, time.Now().UTC()); err != nil {
			d.log.Error().Err(err).Str("webhook_id", w.ID).Msg("record success failed")
		}
		return
	}

	d.met.WebhookDeliveries.WithLabelValues("failure").Inc()
	d.recordAttempt(ctx, w, job, &status, string(snippet), "", false)
	d.recordFailure(ctx, w, job, &status)
}

// recordFailure bumps the persisted failure count (deactivating at the
// threshold) and schedules the next retry when attempts remain.
func (d *Dispatcher) recordFailure(ctx context.Context, w *domain.Webhook, job *deliveryJob, status *int) {
	count, active, err := d.store.RecordWebhookFailure(ctx, w.ID, status, DisableThreshold, time.Now().UTC())
	if err != nil {
		d.log.Error().Err(err).Str("webhook_id", w.ID).Msg("record failure failed")
		return
	}
	if !active {
		d.met.WebhooksDisabled.Inc()
		d.log.Warn().
			Str("webhook_id", w.ID).
			Str("claw_id", w.ClawID).
			Int("failure_count", count).
			Msg("webhook deactivated by circuit breaker")
		return
	}
	if job.attempt >= maxAttempts {
		return
	}

	delay := d.retryDelays[job.attempt-1]
	next := &deliveryJob{webhookID: job.webhookID, eventType: job.eventType, body: job.body, attempt: job.attempt + 1}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, timer)
		closed := d.closed
		d.mu.Unlock()
		if !closed {
			d.enqueue(next)
		}
	})
	d.timers[timer] = struct{}{}
	d.mu.Unlock()
}

func (d *Dispatcher) recordAttempt(ctx context.Context, w *domain.Webhook, job *deliveryJob, status *int, body, errMsg string, success bool) {
	delivery := &domain.WebhookDelivery{
		ID:           xid.New().String(),
		WebhookID:    w.ID,
		EventType:    job.eventType,
		Payload:      json.RawMessage(job.body),
		Attempt:      job.attempt,
		StatusCode:   status,
		ResponseBody: body,
		Error:        errMsg,
		Success:      success,
		DeliveredAt:  time.Now().UTC(),
	}
	if err := d.store.CreateWebhookDelivery(ctx, delivery); err != nil {
		d.log.Error().Err(err).Str("webhook_id", w.ID).Msg("record delivery failed")
	}
}

// SetRetryDelaysForTest shrinks the retry ladder. Test hook only.
func (d *Dispatcher) SetRetryDelaysForTest(delays [maxAttempts - 1]time.Duration) {
	d.retryDelays = delays
}

// SetURLValidatorForTest swaps the pre-attempt URL guard so tests can
// deliver to loopback httptest servers. Test hook only.
func (d *Dispatcher) SetURLValidatorForTest(fn func(string) error) {
	d.validate = fn
}

// Close stops retry timers, drains queued jobs and waits for workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	for t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[*time.Timer]struct{})
	d.mu.Unlock()

	close(d.queue)
	d.wg.Wait()
}
