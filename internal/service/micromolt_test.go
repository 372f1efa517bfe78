package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/storage"
)

// msgTrigger is the minimal valid trigger config for test reflexes.
var msgTrigger = json.RawMessage(`{"event":"message.new"}`)

// logExecutions writes blocked+executed rows for a reflex inside the
// analysis window.
func logExecutions(t *testing.T, store *storage.Store, r *domain.Reflex, blocked, executed int) {
	t.Helper()
	ctx := context.Background()
	at := time.Now().UTC().Add(-time.Hour)
	write := func(result domain.ExecutionResult, n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, store.CreateReflexExecution(ctx, &domain.ReflexExecution{
				ID:        uuid.NewString(),
				ReflexID:  r.ID,
				ClawID:    r.ClawID,
				EventType: "message.new",
				EventID:   uuid.NewString(),
				Result:    result,
				CreatedAt: at,
			}))
		}
	}
	write(domain.ResultBlocked, blocked)
	write(domain.ResultExecuted, executed)
}

func TestMoltSuggestsDisablingBlockedReflex(t *testing.T) {
	store := testStore(t)
	reflexes := NewReflexService(store, zerolog.Nop())
	molt := NewMicroMoltService(store, 3, zerolog.Nop())
	ctx := context.Background()

	claw := seedClaw(t, store, "claw")
	r, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{
		Name:          "auto-greet",
		Behavior:      "send_greeting",
		TriggerConfig: msgTrigger,
	})
	require.NoError(t, err)
	logExecutions(t, store, r, 9, 1)

	out, err := molt.Suggestions(ctx, claw.ClawID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, domain.SuggestDisable, out[0].Action)
	assert.Equal(t, "auto-greet", out[0].Target)
	assert.InDelta(t, 0.9, out[0].Confidence, 1e-9, "confidence is capped at 0.9")
}

func TestMoltIgnoresSmallSamples(t *testing.T) {
	store := testStore(t)
	reflexes := NewReflexService(store, zerolog.Nop())
	molt := NewMicroMoltService(store, 3, zerolog.Nop())
	ctx := context.Background()

	claw := seedClaw(t, store, "claw")

	// Four blocks is below the sample floor even at a 100% rate.
	small, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{Name: "small", Behavior: "noop", TriggerConfig: msgTrigger})
	require.NoError(t, err)
	logExecutions(t, store, small, 4, 0)

	// An 80% rate is not strictly above the threshold.
	borderline, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{Name: "borderline", Behavior: "noop", TriggerConfig: msgTrigger})
	require.NoError(t, err)
	logExecutions(t, store, borderline, 8, 2)

	out, err := molt.Suggestions(ctx, claw.ClawID)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMoltIgnoresOldExecutions(t *testing.T) {
	store := testStore(t)
	reflexes := NewReflexService(store, zerolog.Nop())
	molt := NewMicroMoltService(store, 3, zerolog.Nop())
	ctx := context.Background()

	claw := seedClaw(t, store, "claw")
	r, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{Name: "stale", Behavior: "noop", TriggerConfig: msgTrigger})
	require.NoError(t, err)

	old := time.Now().UTC().Add(-8 * 24 * time.Hour)
	for i := 0; i < 10; i++ {
		require.NoError(t, store.CreateReflexExecution(ctx, &domain.ReflexExecution{
			ID:        uuid.NewString(),
			ReflexID:  r.ID,
			ClawID:    claw.ClawID,
			EventType: "message.new",
			EventID:   uuid.NewString(),
			Result:    domain.ResultBlocked,
			CreatedAt: old,
		}))
	}

	out, err := molt.Suggestions(ctx, claw.ClawID)
	require.NoError(t, err)
	assert.Empty(t, out, "the rejection window is seven days")
}

func TestMoltSuggestionCap(t *testing.T) {
	store := testStore(t)
	reflexes := NewReflexService(store, zerolog.Nop())
	molt := NewMicroMoltService(store, 3, zerolog.Nop())
	ctx := context.Background()

	claw := seedClaw(t, store, "claw")
	for i := 0; i < 5; i++ {
		r, err := reflexes.Create(ctx, claw.ClawID, ReflexInput{
			Name:          fmt.Sprintf("noisy-%d", i),
			Behavior:      "noop",
			TriggerConfig: msgTrigger,
		})
		require.NoError(t, err)
		// Vary the rate so the sort order is deterministic.
		logExecutions(t, store, r, 5+i, 1)
	}

	out, err := molt.Suggestions(ctx, claw.ClawID)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].Confidence, out[i].Confidence)
	}
}
