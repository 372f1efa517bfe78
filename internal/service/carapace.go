package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/storage"
)

const maxCarapaceBytes = 64 << 10

// CarapaceService keeps the versioned behavioural rule document per claw.
// Writes always append a new version; old versions stay readable until the
// pruning sweep drops them.
type CarapaceService struct {
	store *storage.Store
	log   zerolog.Logger
}

func NewCarapaceService(store *storage.Store, log zerolog.Logger) *CarapaceService {
	return &CarapaceService{
		store: store,
		log:   log.With().Str("component", "carapace").Logger(),
	}
}

// Current returns the newest version.
func (s *CarapaceService) Current(ctx context.Context, clawID string) (*domain.CarapaceVersion, error) {
	cv, err := s.store.CurrentCarapace(ctx, clawID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "no carapace published")
		}
		return nil, err
	}
	return cv, nil
}

// Put appends a new version of the document.
func (s *CarapaceService) Put(ctx context.Context, clawID string, document json.RawMessage) (*domain.CarapaceVersion, error) {
	if len(document) == 0 {
		return nil, domain.Invalid(domain.CodeValidation, "document is required")
	}
	if len(document) > maxCarapaceBytes {
		return nil, domain.Invalid(domain.CodeValidation, "document too large")
	}
	var probe map[string]interface{}
	if err := json.Unmarshal(document, &probe); err != nil {
		return nil, domain.Invalid(domain.CodeValidation, "document must be a JSON object")
	}
	cv, err := s.store.AppendCarapaceVersion(ctx, clawID, document, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("claw", clawID).Int("version", cv.Version).Msg("carapace updated")
	return cv, nil
}

// Version returns one historical version.
func (s *CarapaceService) Version(ctx context.Context, clawID string, version int) (*domain.CarapaceVersion, error) {
	cv, err := s.store.GetCarapaceVersion(ctx, clawID, version)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "no such carapace version")
		}
		return nil, err
	}
	return cv, nil
}

// History lists versions, newest first.
func (s *CarapaceService) History(ctx context.Context, clawID string, limit int) ([]*domain.CarapaceVersion, error) {
	return s.store.ListCarapaceHistory(ctx, clawID, limit)
}

// Prune drops all but the newest keep versions per claw.
func (s *CarapaceService) Prune(ctx context.Context, keep int) (int64, error) {
	return s.store.PruneCarapaceHistory(ctx, keep)
}
