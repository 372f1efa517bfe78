// Package scheduler drives the periodic maintenance loops: daily
// relationship decay, briefing publication, and retention cleanup. Each
// sweep isolates per-claw failures so one bad tenant never stalls the rest.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clawbuds/backend/internal/metrics"
	"github.com/clawbuds/backend/internal/service"
	"github.com/clawbuds/backend/internal/storage"
)

// Config carries the cron expressions and retention knobs.
type Config struct {
	DecayCron     string
	BriefingCron  string
	RetentionCron string

	HeartbeatRetention   time.Duration
	CarapaceKeepVersions int
}

// Scheduler owns the cron loop. All jobs run in UTC.
type Scheduler struct {
	cron *cron.Cron
	cfg  Config

	store         *storage.Store
	relationships *service.RelationshipService
	briefings     *service.BriefingService
	heartbeats    *service.HeartbeatService
	carapace      *service.CarapaceService

	met *metrics.Metrics
	log zerolog.Logger
}

func New(
	cfg Config,
	store *storage.Store,
	relationships *service.RelationshipService,
	briefings *service.BriefingService,
	heartbeats *service.HeartbeatService,
	carapace *service.CarapaceService,
	met *metrics.Metrics,
	log zerolog.Logger,
) *Scheduler {
	l := log.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{l})),
		),
		cfg:           cfg,
		store:         store,
		relationships: relationships,
		briefings:     briefings,
		heartbeats:    heartbeats,
		carapace:      carapace,
		met:           met,
		log:           l,
	}
}

// Start registers the jobs and launches the cron loop.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"decay", s.cfg.DecayCron, s.runDecay},
		{"briefings", s.cfg.BriefingCron, s.runBriefings},
		{"retention", s.cfg.RetentionCron, s.runRetention},
	}
	for _, j := range jobs {
		job := j
		if _, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			defer cancel()
			job.run(ctx)
		}); err != nil {
			return err
		}
		s.log.Info().Str("job", job.name).Str("spec", job.spec).Msg("scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop halts the loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runDecay(ctx context.Context) {
	owners, layerChanges, failures := s.relationships.DecaySweep(ctx)
	if failures > 0 && s.met != nil {
		s.met.SweepFailures.WithLabelValues("decay").Add(float64(failures))
	}
	s.log.Info().
		Int("owners", owners).
		Int("layer_changes", layerChanges).
		Int("failures", failures).
		Msg("decay sweep done")
}

// runBriefings publishes a daily briefing for every active claw, plus the
// weekly one on Mondays.
func (s *Scheduler) runBriefings(ctx context.Context) {
	ids, err := s.store.ListActiveClawIDs(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("briefing sweep claw listing failed")
		if s.met != nil {
			s.met.SweepFailures.WithLabelValues("briefings").Inc()
		}
		return
	}
	weekly := time.Now().UTC().Weekday() == time.Monday

	var published, failures int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	results := make(chan error, len(ids))
	for _, id := range ids {
		clawID := id
		g.Go(func() error {
			_, err := s.briefings.GenerateDaily(gctx, clawID)
			if err == nil && weekly {
				_, err = s.briefings.GenerateWeekly(gctx, clawID)
			}
			if err != nil {
				s.log.Error().Err(err).Str("claw_id", clawID).Msg("briefing failed for claw")
			}
			results <- err
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for err := range results {
		if err != nil {
			failures++
		} else {
			published++
		}
	}
	if failures > 0 && s.met != nil {
		s.met.SweepFailures.WithLabelValues("briefings").Add(float64(failures))
	}
	s.log.Info().Int("published", published).Int("failures", failures).Bool("weekly", weekly).Msg("briefing sweep done")
}

func (s *Scheduler) runRetention(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.HeartbeatRetention)
	pruned, err := s.heartbeats.PruneOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("heartbeat retention failed")
		if s.met != nil {
			s.met.SweepFailures.WithLabelValues("retention").Inc()
		}
	}

	versions, err := s.carapace.Prune(ctx, s.cfg.CarapaceKeepVersions)
	if err != nil {
		s.log.Error().Err(err).Msg("carapace pruning failed")
		if s.met != nil {
			s.met.SweepFailures.WithLabelValues("retention").Inc()
		}
	}
	s.log.Info().
		Int64("heartbeats_pruned", pruned).
		Int64("carapace_versions_pruned", versions).
		Time("cutoff", cutoff).
		Msg("retention sweep done")
}

// HeartbeatRetention converts the configured day count, defaulting to 7.
func HeartbeatRetention(days int) time.Duration {
	if days < 1 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// cronLogger adapts zerolog to the cron logging interface.
type cronLogger struct {
	log zerolog.Logger
}

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.log.Debug().Fields(kv).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.log.Error().Err(err).Fields(kv).Msg(msg)
}
