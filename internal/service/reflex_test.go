package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
)

func confidence(v float64) *float64 { return &v }

func TestReflexExecutesOncePerEvent(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	reflexes := NewReflexService(store, zerolog.Nop())
	t.Cleanup(reflexes.Start(bus))
	ctx := context.Background()

	claw := seedClaw(t, store, "claw")
	r, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{
		Name:          "auto-ack",
		Behavior:      "send_ack",
		TriggerConfig: msgTrigger,
		Confidence:    confidence(0.9),
	})
	require.NoError(t, err)

	evt := events.Event{
		ID:         xid.New().String(),
		Type:       events.MessageNew,
		Actor:      "claw_sender",
		Recipients: []string{claw.ClawID},
		OccurredAt: time.Now().UTC(),
		Data:       events.MessagePayload{MessageID: "m1", SenderID: "claw_sender"},
	}
	bus.Publish(ctx, evt)
	bus.Publish(ctx, evt) // the same event redelivered must not double-log

	execs, err := reflexes.Executions(ctx, claw.ClawID, r.ID, time.Time{}, "", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ResultExecuted, execs[0].Result)
	assert.Equal(t, evt.ID, execs[0].EventID)

	// A fresh event fires again.
	bus.Publish(ctx, events.New(events.MessageNew, "claw_sender", []string{claw.ClawID},
		events.MessagePayload{MessageID: "m2", SenderID: "claw_sender"}))
	execs, err = reflexes.Executions(ctx, claw.ClawID, r.ID, time.Time{}, "", 10)
	require.NoError(t, err)
	assert.Len(t, execs, 2)
}

func TestReflexOutcomes(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	reflexes := NewReflexService(store, zerolog.Nop())
	t.Cleanup(reflexes.Start(bus))
	ctx := context.Background()

	claw := seedClaw(t, store, "claw")
	_, err := store.AppendCarapaceVersion(ctx, claw.ClawID,
		json.RawMessage(`{"blockedBehaviors":["auto_reply"]}`), time.Now().UTC())
	require.NoError(t, err)

	deferred, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{
		Name: "deferred", Behavior: "summarize", TriggerLayer: 1,
		TriggerConfig: msgTrigger, Confidence: confidence(0.9),
	})
	require.NoError(t, err)
	blocked, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{
		Name: "blocked", Behavior: "auto_reply",
		TriggerConfig: msgTrigger, Confidence: confidence(0.9),
	})
	require.NoError(t, err)
	executed, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{
		Name: "executed", Behavior: "send_ack",
		TriggerConfig: msgTrigger, Confidence: confidence(0.9),
	})
	require.NoError(t, err)
	timid, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{
		Name: "timid", Behavior: "send_nudge",
		TriggerConfig: msgTrigger, Confidence: confidence(0.4),
	})
	require.NoError(t, err)

	bus.Publish(ctx, events.New(events.MessageNew, "claw_sender", []string{claw.ClawID},
		events.MessagePayload{MessageID: "m1", SenderID: "claw_sender"}))

	want := map[string]domain.ExecutionResult{
		deferred.ID: domain.ResultQueuedForL1,
		blocked.ID:  domain.ResultBlocked,
		executed.ID: domain.ResultExecuted,
		timid.ID:    domain.ResultRecommended,
	}
	for id, result := range want {
		execs, err := reflexes.Executions(ctx, claw.ClawID, id, time.Time{}, "", 10)
		require.NoError(t, err)
		require.Len(t, execs, 1)
		assert.Equal(t, result, execs[0].Result)
	}
}

func TestReflexSelectorsFilterPayload(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	reflexes := NewReflexService(store, zerolog.Nop())
	t.Cleanup(reflexes.Start(bus))
	ctx := context.Background()

	claw := seedClaw(t, store, "claw")
	r, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{
		Name:     "from-moon",
		Behavior: "send_ack",
		TriggerConfig: json.RawMessage(
			`{"event":"message.new","match":{"senderId":"claw_moon"}}`),
		Confidence: confidence(0.9),
	})
	require.NoError(t, err)

	bus.Publish(ctx, events.New(events.MessageNew, "claw_tide", []string{claw.ClawID},
		events.MessagePayload{MessageID: "m1", SenderID: "claw_tide"}))
	bus.Publish(ctx, events.New(events.MessageNew, "claw_moon", []string{claw.ClawID},
		events.MessagePayload{MessageID: "m2", SenderID: "claw_moon"}))

	execs, err := reflexes.Executions(ctx, claw.ClawID, r.ID, time.Time{}, "", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "message.new", execs[0].EventType)
}
