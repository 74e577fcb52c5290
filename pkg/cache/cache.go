package cache

import (
	"context"

	"github.com/google/uuid"

	"transcode-service/dto"
)

// StatusCache is a read-through accelerator in front of the persisted job
// state. Entries are short-lived; the job table stays authoritative.
type StatusCache interface {
	Get(ctx context.Context, mediaId uuid.UUID) (*dto.StatusResponse, bool)
	Set(ctx context.Context, status *dto.StatusResponse)
	Invalidate(ctx context.Context, mediaId uuid.UUID)
}

type nop struct{}

// NewNop returns a cache that stores nothing. Used when no redis address is
// configured and in tests, where every read goes to the repository.
func NewNop() StatusCache {
	return nop{}
}

func (nop) Get(context.Context, uuid.UUID) (*dto.StatusResponse, bool) { return nil, false }
func (nop) Set(context.Context, *dto.StatusResponse)                   {}
func (nop) Invalidate(context.Context, uuid.UUID)                      {}
