package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/storage"
)

// BriefingService composes the daily and weekly digests. Content is the
// rendered text shown to the claw's owner; RawData carries the same facts
// for clients that render their own view.
type BriefingService struct {
	store *storage.Store
	rels  *RelationshipService
	molt  *MicroMoltService
	log   zerolog.Logger
}

func NewBriefingService(store *storage.Store, rels *RelationshipService, molt *MicroMoltService, log zerolog.Logger) *BriefingService {
	return &BriefingService{
		store: store,
		rels:  rels,
		molt:  molt,
		log:   log.With().Str("component", "briefings").Logger(),
	}
}

// briefingData is the machine-readable companion to the rendered text.
type briefingData struct {
	Unread      int                      `json:"unread"`
	AtRisk      []*AtRiskEntry           `json:"atRisk,omitempty"`
	Expertise   []expertiseObservation   `json:"expertise,omitempty"`
	Suggestions []*domain.MoltSuggestion `json:"suggestions,omitempty"`
}

type expertiseObservation struct {
	FriendID string  `json:"friendId"`
	Tag      string  `json:"tag"`
	Score    float64 `json:"score"`
}

// weeklyData aggregates the last seven dailies.
type weeklyData struct {
	Days         int `json:"days"`
	Acknowledged int `json:"acknowledged"`
	PeakUnread   int `json:"peakUnread"`
	Suggestions  int `json:"suggestions"`
}

// GenerateDaily builds and stores today's briefing for one claw.
func (s *BriefingService) GenerateDaily(ctx context.Context, clawID string) (*domain.Briefing, error) {
	unread, err := s.store.UnreadCount(ctx, clawID)
	if err != nil {
		return nil, err
	}
	atRisk, err := s.rels.AtRisk(ctx, clawID)
	if err != nil {
		return nil, err
	}
	expertise, err := s.topExpertise(ctx, clawID, 3)
	if err != nil {
		return nil, err
	}
	suggestions, err := s.molt.Suggestions(ctx, clawID)
	if err != nil {
		return nil, err
	}

	data := briefingData{
		Unread:      unread,
		AtRisk:      atRisk,
		Expertise:   expertise,
		Suggestions: suggestions,
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	b := &domain.Briefing{
		ID:          xid.New().String(),
		ClawID:      clawID,
		Type:        domain.BriefingDaily,
		Content:     renderDaily(data),
		RawData:     raw,
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.store.CreateBriefing(ctx, b); err != nil {
		return nil, err
	}
	s.log.Debug().Str("claw", clawID).Int("unread", unread).Msg("daily briefing generated")
	return b, nil
}

// GenerateWeekly folds the last seven dailies into a digest.
func (s *BriefingService) GenerateWeekly(ctx context.Context, clawID string) (*domain.Briefing, error) {
	dailies, err := s.store.ListRecentDailyBriefings(ctx, clawID, 7)
	if err != nil {
		return nil, err
	}

	agg := weeklyData{Days: len(dailies)}
	for _, d := range dailies {
		if d.AcknowledgedAt != nil {
			agg.Acknowledged++
		}
		var data briefingData
		if len(d.RawData) > 0 && json.Unmarshal(d.RawData, &data) == nil {
			if data.Unread > agg.PeakUnread {
				agg.PeakUnread = data.Unread
			}
			agg.Suggestions += len(data.Suggestions)
		}
	}
	raw, err := json.Marshal(agg)
	if err != nil {
		return nil, err
	}

	b := &domain.Briefing{
		ID:     xid.New().String(),
		ClawID: clawID,
		Type:   domain.BriefingWeekly,
		Content: fmt.Sprintf("Weekly digest: %d daily briefings, %d acknowledged. Peak unread %d. %d suggestions raised.",
			agg.Days, agg.Acknowledged, agg.PeakUnread, agg.Suggestions),
		RawData:     raw,
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.store.CreateBriefing(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func renderDaily(data briefingData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Unread messages: %d.", data.Unread)
	if len(data.AtRisk) > 0 {
		parts := make([]string, len(data.AtRisk))
		for i, r := range data.AtRisk {
			parts[i] = fmt.Sprintf("%s (%s)", r.FriendID, strings.Join(r.Reasons, ", "))
		}
		fmt.Fprintf(&b, "\nRelationships at risk: %s.", strings.Join(parts, "; "))
	}
	if len(data.Expertise) > 0 {
		parts := make([]string, len(data.Expertise))
		for i, e := range data.Expertise {
			parts[i] = fmt.Sprintf("%s via %s (%.2f)", e.Tag, e.FriendID, e.Score)
		}
		fmt.Fprintf(&b, "\nObserved expertise: %s.", strings.Join(parts, "; "))
	}
	if len(data.Suggestions) > 0 {
		parts := make([]string, len(data.Suggestions))
		for i, sg := range data.Suggestions {
			parts[i] = fmt.Sprintf("%s %s (confidence %.2f)", sg.Action, sg.Target, sg.Confidence)
		}
		fmt.Fprintf(&b, "\nSuggestions: %s.", strings.Join(parts, "; "))
	}
	return b.String()
}

// topExpertise picks the strongest expertise observations across all friend
// models.
func (s *BriefingService) topExpertise(ctx context.Context, clawID string, n int) ([]expertiseObservation, error) {
	models, err := s.store.ListFriendModels(ctx, clawID)
	if err != nil {
		return nil, err
	}
	var all []expertiseObservation
	for _, m := range models {
		for tag, score := range m.ExpertiseTags {
			all = append(all, expertiseObservation{FriendID: m.FriendID, Tag: tag, Score: score})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		if all[i].FriendID != all[j].FriendID {
			return all[i].FriendID < all[j].FriendID
		}
		return all[i].Tag < all[j].Tag
	})
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// List returns briefings for the claw, optionally filtered by type.
func (s *BriefingService) List(ctx context.Context, clawID, briefingType string, limit int) ([]*domain.Briefing, error) {
	switch briefingType {
	case "", string(domain.BriefingDaily), string(domain.BriefingWeekly):
	default:
		return nil, domain.Invalid(domain.CodeValidation, "type must be daily or weekly")
	}
	return s.store.ListBriefings(ctx, clawID, domain.BriefingType(briefingType), limit)
}

// Latest returns the newest briefing of a type.
func (s *BriefingService) Latest(ctx context.Context, clawID, briefingType string) (*domain.Briefing, error) {
	if briefingType == "" {
		briefingType = string(domain.BriefingDaily)
	}
	switch briefingType {
	case string(domain.BriefingDaily), string(domain.BriefingWeekly):
	default:
		return nil, domain.Invalid(domain.CodeValidation, "type must be daily or weekly")
	}
	b, err := s.store.LatestBriefing(ctx, clawID, domain.BriefingType(briefingType))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "no briefing yet")
		}
		return nil, err
	}
	return b, nil
}

// Acknowledge stamps a briefing as read. The first acknowledgement wins.
func (s *BriefingService) Acknowledge(ctx context.Context, clawID, briefingID string) error {
	err := s.store.AcknowledgeBriefing(ctx, briefingID, clawID, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NotFound(domain.CodeNotFound, "briefing not found")
	}
	return err
}
