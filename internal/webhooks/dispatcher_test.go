package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/metrics"
	"github.com/clawbuds/backend/internal/storage"
)

func testStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "hooks.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testClaw(t *testing.T, s *storage.Store, id string) string {
	t.Helper()
	require.NoError(t, s.CreateClaw(context.Background(), &domain.Claw{
		ClawID: id, PublicKey: "pk_" + id, DisplayName: id,
		Status: domain.ClawActive, CreatedAt: time.Now(),
	}))
	return id
}

// seedHook inserts a webhook through storage directly; httptest servers sit
// on loopback, which the registration-time URL guard would refuse.
func seedHook(t *testing.T, s *storage.Store, clawID, name, url, secret string, events []string) *domain.Webhook {
	t.Helper()
	now := time.Now().UTC()
	w := &domain.Webhook{
		ID: uuid.NewString(), ClawID: clawID, Type: domain.WebhookOutgoing,
		Name: name, URL: url, Secret: secret, Events: events,
		Active: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateWebhook(context.Background(), w))
	return w
}

func newTestDispatcher(t *testing.T, s *storage.Store) *Dispatcher {
	t.Helper()
	d := NewDispatcher(s, 2, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	d.SetRetryDelaysForTest([3]time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond})
	d.SetURLValidatorForTest(func(string) error { return nil })
	t.Cleanup(d.Close)
	return d
}

func TestDeliverySignsAndLabelsPayload(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	claw := testClaw(t, s, "claw_hook1")

	type received struct {
		body    []byte
		headers http.Header
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, headers: r.Header.Clone()}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := seedHook(t, s, claw, "notify", srv.URL, "pearl-secret", []string{"message.new"})

	d := newTestDispatcher(t, s)
	bus := events.NewBus(zerolog.Nop())
	unsub := d.Start(bus)
	defer unsub()

	bus.Publish(ctx, events.New(events.MessageNew, "claw_sender", []string{claw},
		events.MessagePayload{MessageID: "m1", SenderID: "claw_sender", RecipientIDs: []string{claw}}))

	select {
	case r := <-got:
		assert.Equal(t, "application/json", r.headers.Get("Content-Type"))
		assert.Equal(t, "message.new", r.headers.Get(HeaderEvent))
		assert.NotEmpty(t, r.headers.Get(HeaderDelivery))
		assert.NotEmpty(t, r.headers.Get(HeaderTimestamp))

		sig := r.headers.Get(HeaderSignature)
		assert.True(t, strings.HasPrefix(sig, "sha256="))
		assert.True(t, VerifySignature(r.body, "pearl-secret", sig))

		assert.Contains(t, string(r.body), `"event":"message.new"`)
		assert.Contains(t, string(r.body), `"messageId":"m1"`)
	case <-time.After(3 * time.Second):
		t.Fatal("delivery never arrived")
	}

	// Success resets the failure streak and lands in the delivery log.
	require.Eventually(t, func() bool {
		w, err := s.GetWebhook(ctx, hook.ID)
		return err == nil && w.FailureCount == 0 && w.LastStatusCode != nil && *w.LastStatusCode == 200
	}, 3*time.Second, 20*time.Millisecond)

	deliveries, err := s.ListWebhookDeliveries(ctx, hook.ID, 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.True(t, deliveries[0].Success)
	assert.Equal(t, 1, deliveries[0].Attempt)
}

func TestDeliveryRetriesThenGivesUp(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	claw := testClaw(t, s, "claw_hook2")

	hit := make(chan struct{}, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- struct{}{}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	hook := seedHook(t, s, claw, "flaky", srv.URL, "s", []string{"*"})

	d := newTestDispatcher(t, s)
	bus := events.NewBus(zerolog.Nop())
	defer d.Start(bus)()

	bus.Publish(ctx, events.New(events.PearlShared, "claw_x", []string{claw},
		events.PearlSharedPayload{PearlID: "p1", FromClawID: "claw_x", ToClawID: claw}))

	// 1 initial + 3 retries, then the ladder is exhausted.
	for i := 0; i < 4; i++ {
		select {
		case <-hit:
		case <-time.After(3 * time.Second):
			t.Fatalf("attempt %d never arrived", i+1)
		}
	}
	select {
	case <-hit:
		t.Fatal("a fifth attempt arrived")
	case <-time.After(200 * time.Millisecond):
	}

	require.Eventually(t, func() bool {
		deliveries, err := s.ListWebhookDeliveries(ctx, hook.ID, 10)
		return err == nil && len(deliveries) == 4
	}, 3*time.Second, 20*time.Millisecond)

	w, err := s.GetWebhook(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, w.FailureCount)
	assert.True(t, w.Active, "4 failures stay below the breaker threshold")
}

func TestRetriesStopWhenWebhookDeactivated(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	claw := testClaw(t, s, "claw_hook3")

	hit := make(chan struct{}, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- struct{}{}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewService(s)
	hook := seedHook(t, s, claw, "doomed", srv.URL, "s", []string{"*"})

	d := newTestDispatcher(t, s)
	d.SetRetryDelaysForTest([3]time.Duration{150 * time.Millisecond, 150 * time.Millisecond, 150 * time.Millisecond})
	bus := events.NewBus(zerolog.Nop())
	defer d.Start(bus)()

	bus.Publish(ctx, events.New(events.MessageNew, "claw_x", []string{claw},
		events.MessagePayload{MessageID: "m1"}))

	// First attempt lands, then the owner flips the webhook off before the
	// retry timer fires.
	select {
	case <-hit:
	case <-time.After(3 * time.Second):
		t.Fatal("first attempt never arrived")
	}
	inactive := false
	_, err := svc.Update(ctx, claw, hook.ID, UpdateParams{Active: &inactive})
	require.NoError(t, err)

	select {
	case <-hit:
		t.Fatal("retry fired against a deactivated webhook")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestCircuitBreakerDisablesAfterTenFailures(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	claw := testClaw(t, s, "claw_hook4")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	hook := seedHook(t, s, claw, "breaker", srv.URL, "s", []string{"*"})

	d := newTestDispatcher(t, s)
	bus := events.NewBus(zerolog.Nop())
	defer d.Start(bus)()

	// Each event burns up to 4 attempts; three events exceed the threshold.
	for i := 0; i < 3; i++ {
		bus.Publish(ctx, events.New(events.MessageNew, "claw_x", []string{claw},
			events.MessagePayload{MessageID: "m"}))
	}

	require.Eventually(t, func() bool {
		w, err := s.GetWebhook(ctx, hook.ID)
		return err == nil && !w.Active && w.FailureCount >= DisableThreshold
	}, 5*time.Second, 20*time.Millisecond)

	// Reactivation + a healthy endpoint resets the count on first success.
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	w, err := s.GetWebhook(ctx, hook.ID)
	require.NoError(t, err)
	w.Active = true
	w.URL = healthy.URL
	w.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.UpdateWebhook(ctx, w))

	bus.Publish(ctx, events.New(events.MessageNew, "claw_x", []string{claw},
		events.MessagePayload{MessageID: "m2"}))

	require.Eventually(t, func() bool {
		w, err := s.GetWebhook(ctx, hook.ID)
		return err == nil && w.Active && w.FailureCount == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDispatcherSkipsNonMatchingAndForbiddenHooks(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	claw := testClaw(t, s, "claw_hook5")

	hit := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- r.Header.Get(HeaderEvent)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	seedHook(t, s, claw, "only-pearls", srv.URL, "s", []string{"pearl.endorsed"})

	d := newTestDispatcher(t, s)
	bus := events.NewBus(zerolog.Nop())
	defer d.Start(bus)()

	bus.Publish(ctx, events.New(events.MessageNew, "claw_x", []string{claw}, events.MessagePayload{MessageID: "m"}))
	bus.Publish(ctx, events.New(events.PearlEndorsed, "claw_x", []string{claw},
		events.PearlEndorsedPayload{PearlID: "p", EndorserID: "claw_x", Score: 0.9}))

	select {
	case evt := <-hit:
		assert.Equal(t, "pearl.endorsed", evt)
	case <-time.After(3 * time.Second):
		t.Fatal("matching event never delivered")
	}
	select {
	case evt := <-hit:
		t.Fatalf("unexpected delivery for %s", evt)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestResponseBodyTruncatedInLog(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	claw := testClaw(t, s, "claw_hook6")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	hook := seedHook(t, s, claw, "chatty", srv.URL, "s", []string{"*"})

	d := newTestDispatcher(t, s)
	bus := events.NewBus(zerolog.Nop())
	defer d.Start(bus)()

	bus.Publish(ctx, events.New(events.MessageNew, "claw_x", []string{claw}, events.MessagePayload{MessageID: "m"}))

	require.Eventually(t, func() bool {
		deliveries, err := s.ListWebhookDeliveries(ctx, hook.ID, 1)
		return err == nil && len(deliveries) == 1
	}, 3*time.Second, 20*time.Millisecond)

	deliveries, err := s.ListWebhookDeliveries(ctx, hook.ID, 1)
	require.NoError(t, err)
	assert.Len(t, deliveries[0].ResponseBody, 1024)
}

func TestDeliveryBlocksForbiddenTarget(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	claw := testClaw(t, s, "claw_hook9")
	hook := seedHook(t, s, claw, "inside", "http://10.0.0.5/hook", "s", []string{"*"})

	// Real URL guard: a hook whose target sits in a forbidden range is
	// refused before any request goes out.
	d := NewDispatcher(s, 1, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	d.SetRetryDelaysForTest([3]time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond})
	t.Cleanup(d.Close)
	bus := events.NewBus(zerolog.Nop())
	defer d.Start(bus)()

	bus.Publish(ctx, events.New(events.MessageNew, "claw_x", []string{claw}, events.MessagePayload{MessageID: "m"}))

	require.Eventually(t, func() bool {
		deliveries, err := s.ListWebhookDeliveries(ctx, hook.ID, 10)
		return err == nil && len(deliveries) >= 1
	}, 3*time.Second, 20*time.Millisecond)

	deliveries, err := s.ListWebhookDeliveries(ctx, hook.ID, 10)
	require.NoError(t, err)
	assert.False(t, deliveries[0].Success)
	assert.Contains(t, deliveries[0].Error, "forbidden url")
	assert.Nil(t, deliveries[0].StatusCode)
}

func TestServiceRejectsForbiddenURLOnCreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	claw := testClaw(t, s, "claw_hook7")
	svc := NewService(s)

	_, err := svc.Create(ctx, claw, CreateParams{
		Name: "bad", URL: "http://169.254.169.254/", Events: []string{"*"},
	})
	derr, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeForbiddenURL, derr.Code)

	good, err := svc.Create(ctx, claw, CreateParams{
		Name: "good", URL: "https://example.com/hook", Events: []string{"*"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, good.Secret, "missing secret is generated")

	evil := "http://[::1]:8080/"
	_, err = svc.Update(ctx, claw, good.ID, UpdateParams{URL: &evil})
	derr, ok = domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeForbiddenURL, derr.Code)

	_, err = svc.Create(ctx, claw, CreateParams{
		Name: "bad-events", URL: "https://example.com/h", Events: []string{"no.such_event"},
	})
	derr, ok = domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeValidation, derr.Code)
}

func TestIncomingVerification(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	claw := testClaw(t, s, "claw_hook8")
	svc := NewService(s)

	_, err := svc.Create(ctx, claw, CreateParams{
		Name: "inbound", Type: domain.WebhookIncoming, Secret: "incoming-secret", Events: []string{"*"},
	})
	require.NoError(t, err)

	body := []byte(`{"note":"external ping"}`)
	sig := SignPayload(body, "incoming-secret")

	w, err := svc.VerifyIncoming(ctx, claw, "inbound", body, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookIncoming, w.Type)

	_, err = svc.VerifyIncoming(ctx, claw, "inbound", body, "sha256=0000")
	derr, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeBadSignature, derr.Code)

	_, err = svc.VerifyIncoming(ctx, claw, "nope", body, sig)
	derr, ok = domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeNotFound, derr.Code)
}
