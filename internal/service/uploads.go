package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/storage"
)

// UploadService stores bounded binary blobs for avatars and image blocks.
// Reads are by id only: the id is the capability, since delivered messages
// reference uploads the reader does not own.
type UploadService struct {
	store    *storage.Store
	maxBytes int64
	log      zerolog.Logger
}

func NewUploadService(store *storage.Store, maxBytes int64, log zerolog.Logger) *UploadService {
	return &UploadService{
		store:    store,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "uploads").Logger(),
	}
}

// Create stores a blob and returns its metadata.
func (s *UploadService) Create(ctx context.Context, clawID, filename, contentType string, data []byte) (*domain.Upload, error) {
	if len(data) == 0 {
		return nil, domain.Invalid(domain.CodeValidation, "upload is empty")
	}
	if int64(len(data)) > s.maxBytes {
		return nil, domain.Invalid(domain.CodeValidation, "upload exceeds the size limit")
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "upload"
	}
	if len(filename) > 255 {
		return nil, domain.Invalid(domain.CodeValidation, "filename too long")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	u := &domain.Upload{
		ID:          uuid.NewString(),
		OwnerID:     clawID,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateUpload(ctx, u); err != nil {
		return nil, err
	}
	s.log.Debug().Str("claw", clawID).Str("upload", u.ID).Int64("size", u.Size).Msg("upload stored")
	return u, nil
}

// Get fetches a blob with its data.
func (s *UploadService) Get(ctx context.Context, uploadID string) (*domain.Upload, error) {
	u, err := s.store.GetUpload(ctx, uploadID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "upload not found")
		}
		return nil, err
	}
	return u, nil
}

// List returns the claw's uploads without their data.
func (s *UploadService) List(ctx context.Context, clawID string) ([]*domain.Upload, error) {
	return s.store.ListUploads(ctx, clawID)
}

// Delete removes one of the claw's uploads.
func (s *UploadService) Delete(ctx context.Context, clawID, uploadID string) error {
	err := s.store.DeleteUpload(ctx, clawID, uploadID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NotFound(domain.CodeNotFound, "upload not found")
	}
	return err
}
