package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

// autoExecConfidence is the threshold at which a matched layer-0 reflex
// executes without confirmation.
const autoExecConfidence = 0.6

// seenCapacity bounds the per-node (event, reflex) dedupe set.
const seenCapacity = 4096

// ReflexService owns per-claw trigger rules and runs the matching engine.
// Every bus event is checked against the enabled reflexes of its recipients;
// each match logs exactly one execution. Dedupe is a process-local FIFO set
// backstopped by the UNIQUE (reflex, event) index, so a restart or a second
// node cannot double-log.
type ReflexService struct {
	store *storage.Store
	log   zerolog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

func NewReflexService(store *storage.Store, log zerolog.Logger) *ReflexService {
	return &ReflexService{
		store: store,
		log:   log.With().Str("component", "reflexes").Logger(),
		seen:  make(map[string]struct{}, seenCapacity),
	}
}

// Start attaches the engine to the bus. It listens on every event type
// because reflexes may trigger on any of them.
func (s *ReflexService) Start(bus *events.Bus) func() {
	return bus.SubscribeAll("reflexes", s.onEvent)
}

func (s *ReflexService) onEvent(ctx context.Context, evt events.Event) {
	if len(evt.Recipients) == 0 {
		return
	}
	reflexes, err := s.store.ListEnabledReflexesByTrigger(ctx, string(evt.Type), evt.Recipients)
	if err != nil {
		s.log.Error().Err(err).Str("event", string(evt.Type)).Msg("list reflexes")
		return
	}
	if len(reflexes) == 0 {
		return
	}

	payload := flattenPayload(evt.Data)
	now := time.Now().UTC()
	for _, r := range reflexes {
		if s.checkAndMark(evt.ID + ":" + r.ID) {
			continue
		}
		if !matchSelectors(r.TriggerConfig, payload) {
			continue
		}
		result, detail := s.outcome(ctx, r)
		exec := &domain.ReflexExecution{
			ID:        xid.New().String(),
			ReflexID:  r.ID,
			ClawID:    r.ClawID,
			EventType: string(evt.Type),
			EventID:   evt.ID,
			Result:    result,
			Detail:    detail,
			CreatedAt: now,
		}
		if err := s.store.CreateReflexExecution(ctx, exec); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				continue
			}
			s.log.Error().Err(err).Str("reflex", r.ID).Msg("log reflex execution")
			continue
		}
		s.log.Debug().
			Str("reflex", r.ID).
			Str("claw", r.ClawID).
			Str("event", string(evt.Type)).
			Str("result", string(result)).
			Msg("reflex fired")
	}
}

// outcome classifies a matched reflex. Layer-1 rules always defer to the
// external assistant; layer-0 rules run the carapace policy gate and then
// the confidence threshold.
func (s *ReflexService) outcome(ctx context.Context, r *domain.Reflex) (domain.ExecutionResult, string) {
	if r.TriggerLayer >= 1 {
		return domain.ResultQueuedForL1, "deferred to layer 1 assistant"
	}
	blocked, err := s.behaviorBlocked(ctx, r.ClawID, r.Behavior)
	if err != nil {
		s.log.Error().Err(err).Str("claw", r.ClawID).Msg("read carapace policy")
	}
	if blocked {
		return domain.ResultBlocked, "behavior blocked by carapace"
	}
	if r.Confidence >= autoExecConfidence {
		return domain.ResultExecuted, ""
	}
	return domain.ResultRecommended, "confidence below auto-execution threshold"
}

// behaviorBlocked consults the claw's current carapace document. A claw
// without a carapace blocks nothing.
func (s *ReflexService) behaviorBlocked(ctx context.Context, clawID, behavior string) (bool, error) {
	cv, err := s.store.CurrentCarapace(ctx, clawID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	var doc struct {
		BlockedBehaviors []string `json:"blockedBehaviors"`
	}
	if err := json.Unmarshal(cv.Document, &doc); err != nil {
		return false, err
	}
	return containsString(doc.BlockedBehaviors, behavior), nil
}

// checkAndMark reports whether the key was already processed on this node
// and records it if not. Oldest entries fall out once the set is full.
func (s *ReflexService) checkAndMark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return true
	}
	if len(s.ring) < seenCapacity {
		s.ring = append(s.ring, key)
	} else {
		delete(s.seen, s.ring[s.next])
		s.ring[s.next] = key
		s.next = (s.next + 1) % seenCapacity
	}
	s.seen[key] = struct{}{}
	return false
}

// flattenPayload exposes the typed event payload as a generic map for
// selector matching.
func flattenPayload(data interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// matchSelectors applies the optional "match" block of a trigger config to
// the event payload. Every listed key must be present and equal. No match
// block means the event type alone decides.
func matchSelectors(cfg json.RawMessage, payload map[string]interface{}) bool {
	if len(cfg) == 0 {
		return true
	}
	var parsed struct {
		Match map[string]interface{} `json:"match"`
	}
	if err := json.Unmarshal(cfg, &parsed); err != nil {
		return false
	}
	for key, want := range parsed.Match {
		got, ok := payload[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// ===== CRUD =====

// ReflexInput carries the writable reflex fields.
type ReflexInput struct {
	Name          string          `json:"name"`
	ValueLayer    string          `json:"valueLayer"`
	Behavior      string          `json:"behavior"`
	TriggerLayer  int             `json:"triggerLayer"`
	TriggerConfig json.RawMessage `json:"triggerConfig"`
	Confidence    *float64        `json:"confidence"`
	Enabled       *bool           `json:"enabled"`
}

// Create registers a reflex for the claw. Names are unique per claw.
func (s *ReflexService) Create(ctx context.Context, clawID string, in ReflexInput) (*domain.Reflex, error) {
	now := time.Now().UTC()
	r := &domain.Reflex{
		ID:            uuid.NewString(),
		ClawID:        clawID,
		Name:          strings.TrimSpace(in.Name),
		ValueLayer:    strings.TrimSpace(in.ValueLayer),
		Behavior:      strings.TrimSpace(in.Behavior),
		TriggerLayer:  in.TriggerLayer,
		TriggerConfig: in.TriggerConfig,
		Enabled:       true,
		Confidence:    0.5,
		Source:        domain.ReflexUser,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Confidence != nil {
		r.Confidence = *in.Confidence
	}
	if in.Enabled != nil {
		r.Enabled = *in.Enabled
	}
	if err := validateReflex(r); err != nil {
		return nil, err
	}
	if err := s.store.CreateReflex(ctx, r); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, domain.Conflict(domain.CodeDuplicate, "a reflex with that name already exists")
		}
		return nil, err
	}
	return r, nil
}

// Get returns one of the claw's reflexes.
func (s *ReflexService) Get(ctx context.Context, clawID, reflexID string) (*domain.Reflex, error) {
	return s.owned(ctx, clawID, reflexID)
}

// List returns the claw's reflexes, newest first.
func (s *ReflexService) List(ctx context.Context, clawID string) ([]*domain.Reflex, error) {
	return s.store.ListReflexes(ctx, clawID)
}

// ReflexUpdate carries partial edits. Nil fields keep their value; a
// non-nil TriggerConfig replaces the whole config.
type ReflexUpdate struct {
	Name          *string         `json:"name"`
	ValueLayer    *string         `json:"valueLayer"`
	Behavior      *string         `json:"behavior"`
	TriggerLayer  *int            `json:"triggerLayer"`
	TriggerConfig json.RawMessage `json:"triggerConfig"`
	Confidence    *float64        `json:"confidence"`
	Enabled       *bool           `json:"enabled"`
}

// Update edits a reflex the claw owns.
func (s *ReflexService) Update(ctx context.Context, clawID, reflexID string, in ReflexUpdate) (*domain.Reflex, error) {
	r, err := s.owned(ctx, clawID, reflexID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		r.Name = strings.TrimSpace(*in.Name)
	}
	if in.ValueLayer != nil {
		r.ValueLayer = strings.TrimSpace(*in.ValueLayer)
	}
	if in.Behavior != nil {
		r.Behavior = strings.TrimSpace(*in.Behavior)
	}
	if in.TriggerLayer != nil {
		r.TriggerLayer = *in.TriggerLayer
	}
	if len(in.TriggerConfig) > 0 {
		r.TriggerConfig = in.TriggerConfig
	}
	if in.Confidence != nil {
		r.Confidence = *in.Confidence
	}
	if in.Enabled != nil {
		r.Enabled = *in.Enabled
	}
	r.UpdatedAt = time.Now().UTC()
	if err := validateReflex(r); err != nil {
		return nil, err
	}
	if err := s.store.UpdateReflex(ctx, r); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, domain.Conflict(domain.CodeDuplicate, "a reflex with that name already exists")
		}
		return nil, err
	}
	return r, nil
}

// SetEnabled flips a reflex on or off.
func (s *ReflexService) SetEnabled(ctx context.Context, clawID, reflexID string, enabled bool) error {
	if _, err := s.owned(ctx, clawID, reflexID); err != nil {
		return err
	}
	return s.store.SetReflexEnabled(ctx, reflexID, enabled, time.Now().UTC())
}

// Delete removes a reflex and its execution history.
func (s *ReflexService) Delete(ctx context.Context, clawID, reflexID string) error {
	if _, err := s.owned(ctx, clawID, reflexID); err != nil {
		return err
	}
	return s.store.DeleteReflex(ctx, reflexID)
}

// Executions returns the claw's execution log, optionally narrowed to one
// reflex, a time window, or one result.
func (s *ReflexService) Executions(ctx context.Context, clawID, reflexID string, since time.Time, result string, limit int) ([]*domain.ReflexExecution, error) {
	if reflexID != "" {
		if _, err := s.owned(ctx, clawID, reflexID); err != nil {
			return nil, err
		}
	}
	switch domain.ExecutionResult(result) {
	case "", domain.ResultExecuted, domain.ResultRecommended, domain.ResultBlocked, domain.ResultQueuedForL1:
	default:
		return nil, domain.Invalid(domain.CodeValidation, "unknown execution result")
	}
	return s.store.ListReflexExecutions(ctx, clawID, reflexID, since, domain.ExecutionResult(result), limit)
}

// Stats aggregates per-reflex execution counts over the window.
func (s *ReflexService) Stats(ctx context.Context, clawID string, window time.Duration) ([]*domain.ReflexStats, error) {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return s.store.ReflexStatsForClaw(ctx, clawID, time.Now().UTC().Add(-window))
}

func (s *ReflexService) owned(ctx context.Context, clawID, reflexID string) (*domain.Reflex, error) {
	r, err := s.store.GetReflex(ctx, reflexID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "reflex not found")
		}
		return nil, err
	}
	if r.ClawID != clawID {
		return nil, domain.NotFound(domain.CodeNotFound, "reflex not found")
	}
	return r, nil
}

func validateReflex(r *domain.Reflex) error {
	if r.Name == "" {
		return domain.Invalid(domain.CodeValidation, "name is required")
	}
	if len(r.Name) > 100 {
		return domain.Invalid(domain.CodeValidation, "name too long")
	}
	if r.Behavior == "" {
		return domain.Invalid(domain.CodeValidation, "behavior is required")
	}
	if r.TriggerLayer != 0 && r.TriggerLayer != 1 {
		return domain.Invalid(domain.CodeValidation, "triggerLayer must be 0 or 1")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return domain.Invalid(domain.CodeValidation, "confidence must be between 0 and 1")
	}
	if len(r.TriggerConfig) > 0 && !json.Valid(r.TriggerConfig) {
		return domain.Invalid(domain.CodeValidation, "triggerConfig is not valid JSON")
	}
	ev := r.TriggerEvent()
	if ev == "" {
		return domain.Invalid(domain.CodeValidation, "triggerConfig must name an event")
	}
	if !events.Known(ev) {
		return domain.Invalid(domain.CodeValidation, "unknown trigger event: "+ev)
	}
	return nil
}
