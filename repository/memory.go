package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"transcode-service/constant"
	"transcode-service/entities"
)

// MemoryRepo is an in-memory Repository used by tests and local development.
type MemoryRepo struct {
	mu    sync.RWMutex
	media map[uuid.UUID]*entities.MediaItem
	jobs  map[uuid.UUID]*entities.TranscodeJob
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		media: make(map[uuid.UUID]*entities.MediaItem),
		jobs:  make(map[uuid.UUID]*entities.TranscodeJob),
	}
}

func (m *MemoryRepo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return callback(ctx)
}

func (m *MemoryRepo) CreateMediaItem(ctx context.Context, item *entities.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	item.UpdatedAt = time.Now()
	cp := *item
	m.media[item.Id] = &cp
	return nil
}

func (m *MemoryRepo) FindMediaItemById(ctx context.Context, id uuid.UUID) (*entities.MediaItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.media[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *MemoryRepo) MarkMediaItemConverted(ctx context.Context, id uuid.UUID, playlistUrl string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.media[id]
	if !ok {
		return ErrNotFound
	}
	item.HlsPlaylist = playlistUrl
	item.IsConverted = true
	item.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepo) DeleteMediaItem(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.media, id)
	return nil
}

func (m *MemoryRepo) CreateJob(ctx context.Context, job *entities.TranscodeJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()
	cp := *job
	m.jobs[job.Id] = &cp
	return nil
}

func (m *MemoryRepo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.TranscodeJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryRepo) FindActiveJobByMediaId(ctx context.Context, mediaId uuid.UUID) (*entities.TranscodeJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := m.jobsByMediaLocked(mediaId)
	for _, job := range jobs {
		if job.Status.Active() {
			cp := *job
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepo) FindLatestJobByMediaId(ctx context.Context, mediaId uuid.UUID) (*entities.TranscodeJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := m.jobsByMediaLocked(mediaId)
	if len(jobs) == 0 {
		return nil, nil
	}
	cp := *jobs[0]
	return &cp, nil
}

// jobsByMediaLocked returns the media item's jobs, newest first.
func (m *MemoryRepo) jobsByMediaLocked(mediaId uuid.UUID) []*entities.TranscodeJob {
	var jobs []*entities.TranscodeJob
	for _, job := range m.jobs {
		if job.MediaItemId == mediaId {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

func (m *MemoryRepo) TransitionJobStatus(ctx context.Context, id uuid.UUID, from, to constant.JobStatus, errorMessage *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != from {
		return false, nil
	}
	now := time.Now()
	job.Status = to
	job.UpdatedAt = now
	if to == constant.JobStatusRunning {
		job.StartedAt = &now
	}
	if to.Terminal() {
		job.FinishedAt = &now
	}
	if errorMessage != nil {
		msg := *errorMessage
		job.ErrorMessage = &msg
	}
	return true, nil
}

func (m *MemoryRepo) UpdateJobEta(ctx context.Context, id uuid.UUID, etaSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	eta := etaSeconds
	job.EtaSeconds = &eta
	job.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepo) FindStaleRunningJobs(ctx context.Context, updatedBefore time.Time) ([]*entities.TranscodeJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stale []*entities.TranscodeJob
	for _, job := range m.jobs {
		if job.Status == constant.JobStatusRunning && job.UpdatedAt.Before(updatedBefore) {
			cp := *job
			stale = append(stale, &cp)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	return stale, nil
}

var _ Repository = (*MemoryRepo)(nil)
