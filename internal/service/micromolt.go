package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/storage"
)

// Sampling thresholds for the micro-molt analyses.
const (
	rejectionWindow     = 7 * 24 * time.Hour
	groomingWindow      = 30 * 24 * time.Hour
	readingSample       = 14
	minRejectionSample  = 5
	minReadingAcks      = 5
	minGroomingMessages = 5
	minEndorsements     = 3
	defaultBriefingHour = 20
)

// MicroMoltService mines the execution log, briefings, messaging history,
// pearls, and the Dunbar layout for carapace adjustment suggestions. It
// never applies anything; the claw's owner reviews and acts.
type MicroMoltService struct {
	store          *storage.Store
	log            zerolog.Logger
	maxSuggestions int
}

func NewMicroMoltService(store *storage.Store, maxSuggestions int, log zerolog.Logger) *MicroMoltService {
	if maxSuggestions <= 0 {
		maxSuggestions = 3
	}
	return &MicroMoltService{
		store:          store,
		log:            log.With().Str("component", "micromolt").Logger(),
		maxSuggestions: maxSuggestions,
	}
}

// Suggestions runs every analysis and returns the strongest findings,
// sorted by confidence, capped at the configured maximum.
func (s *MicroMoltService) Suggestions(ctx context.Context, clawID string) ([]*domain.MoltSuggestion, error) {
	var out []*domain.MoltSuggestion

	for _, analyze := range []func(context.Context, string) ([]*domain.MoltSuggestion, error){
		s.analyzeRejections,
		s.analyzeReading,
		s.analyzeGrooming,
		s.analyzePearlRouting,
		s.analyzeDunbar,
	} {
		found, err := analyze(ctx, clawID)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > s.maxSuggestions {
		out = out[:s.maxSuggestions]
	}
	return out, nil
}

// analyzeRejections flags reflexes the carapace keeps blocking. A rule that
// is almost always refused should be disabled rather than retried.
func (s *MicroMoltService) analyzeRejections(ctx context.Context, clawID string) ([]*domain.MoltSuggestion, error) {
	stats, err := s.store.ReflexStatsForClaw(ctx, clawID, time.Now().UTC().Add(-rejectionWindow))
	if err != nil {
		return nil, err
	}
	var out []*domain.MoltSuggestion
	for _, st := range stats {
		if st.Total < minRejectionSample {
			continue
		}
		blockedRate := float64(st.Blocked) / float64(st.Total)
		if blockedRate <= 0.8 {
			continue
		}
		out = append(out, &domain.MoltSuggestion{
			Action:     domain.SuggestDisable,
			Target:     st.Name,
			Reason:     fmt.Sprintf("blocked %d of %d times in the last 7 days", st.Blocked, st.Total),
			Confidence: minFloat(0.9, blockedRate),
		})
	}
	return out, nil
}

// analyzeReading checks when daily briefings actually get acknowledged. A
// modal hour away from the default delivery hour suggests moving it.
func (s *MicroMoltService) analyzeReading(ctx context.Context, clawID string) ([]*domain.MoltSuggestion, error) {
	briefings, err := s.store.ListRecentDailyBriefings(ctx, clawID, readingSample)
	if err != nil {
		return nil, err
	}
	var hours [24]int
	acked := 0
	for _, b := range briefings {
		if b.AcknowledgedAt == nil {
			continue
		}
		acked++
		hours[b.AcknowledgedAt.UTC().Hour()]++
	}
	if acked < minReadingAcks {
		return nil, nil
	}
	modal := 0
	for h, n := range hours {
		if n > hours[modal] {
			modal = h
		}
	}
	diff := modal - defaultBriefingHour
	if diff < 0 {
		diff = -diff
	}
	if diff <= 1 {
		return nil, nil
	}
	return []*domain.MoltSuggestion{{
		Action:     domain.SuggestTiming,
		Target:     "daily_briefing",
		Reason:     fmt.Sprintf("briefings are usually read around %02d:00, not %02d:00", modal, defaultBriefingHour),
		Confidence: float64(acked) / float64(readingSample),
	}}, nil
}

// analyzeGrooming looks at unreciprocated maintenance messaging. Friends
// who never reply warrant human attention; friends who reliably reply are
// safe for autonomous grooming.
func (s *MicroMoltService) analyzeGrooming(ctx context.Context, clawID string) ([]*domain.MoltSuggestion, error) {
	friends, err := s.store.ListFriendIDs(ctx, clawID)
	if err != nil {
		return nil, err
	}
	since := time.Now().UTC().Add(-groomingWindow)
	var out []*domain.MoltSuggestion
	for _, friendID := range friends {
		sent, err := s.store.CountMessagesDelivered(ctx, clawID, friendID, since)
		if err != nil {
			return nil, err
		}
		if sent < minGroomingMessages {
			continue
		}
		replies, err := s.store.CountMessagesDelivered(ctx, friendID, clawID, since)
		if err != nil {
			return nil, err
		}
		replyRate := minFloat(1, float64(replies)/float64(sent))
		switch {
		case replyRate == 0:
			out = append(out, &domain.MoltSuggestion{
				Action:     domain.SuggestEscalate,
				Target:     friendID,
				Reason:     fmt.Sprintf("%d messages in 30 days with no reply", sent),
				Confidence: 0.7,
			})
		case replyRate >= 0.6:
			out = append(out, &domain.MoltSuggestion{
				Action:     domain.SuggestAllow,
				Target:     friendID,
				Reason:     fmt.Sprintf("reply rate %.0f%% over %d messages", replyRate*100, sent),
				Confidence: minFloat(0.9, replyRate),
			})
		}
	}
	return out, nil
}

// analyzePearlRouting judges whether pearls can be auto-shared. Well
// endorsed pearls route themselves; poorly endorsed ones need review.
func (s *MicroMoltService) analyzePearlRouting(ctx context.Context, clawID string) ([]*domain.MoltSuggestion, error) {
	pearls, err := s.store.ListPearls(ctx, clawID, "", "", 200)
	if err != nil {
		return nil, err
	}
	var out []*domain.MoltSuggestion
	for _, p := range pearls {
		endorsements, err := s.store.ListEndorsements(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if len(endorsements) < minEndorsements {
			continue
		}
		switch {
		case p.Luster > 0.6:
			out = append(out, &domain.MoltSuggestion{
				Action:     domain.SuggestAllow,
				Target:     p.ID,
				Reason:     fmt.Sprintf("luster %.2f across %d endorsements", p.Luster, len(endorsements)),
				Confidence: minFloat(0.9, p.Luster),
			})
		case p.Luster < 0.2:
			out = append(out, &domain.MoltSuggestion{
				Action:     domain.SuggestEscalate,
				Target:     p.ID,
				Reason:     fmt.Sprintf("luster %.2f across %d endorsements", p.Luster, len(endorsements)),
				Confidence: minFloat(0.9, 1-p.Luster),
			})
		}
	}
	return out, nil
}

// analyzeDunbar reacts to a saturated core layer or a sprawling casual
// layer, both signs that routine tie maintenance can be delegated.
func (s *MicroMoltService) analyzeDunbar(ctx context.Context, clawID string) ([]*domain.MoltSuggestion, error) {
	rels, err := s.store.ListRelationships(ctx, clawID)
	if err != nil {
		return nil, err
	}
	core, casual := 0, 0
	for _, r := range rels {
		switch r.DunbarLayer {
		case domain.LayerCore:
			core++
		case domain.LayerCasual:
			casual++
		}
	}
	var out []*domain.MoltSuggestion
	if core >= 5 {
		out = append(out, &domain.MoltSuggestion{
			Action:     domain.SuggestAllow,
			Target:     string(domain.LayerCore),
			Reason:     fmt.Sprintf("core layer holds %d ties", core),
			Confidence: 0.6,
		})
	}
	if casual > 100 {
		out = append(out, &domain.MoltSuggestion{
			Action:     domain.SuggestAllow,
			Target:     string(domain.LayerCasual),
			Reason:     fmt.Sprintf("casual layer holds %d ties", casual),
			Confidence: 0.6,
		})
	}
	return out, nil
}
