package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"transcode-service/config"
	"transcode-service/constant"
	"transcode-service/dto"
	"transcode-service/entities"
	"transcode-service/pkg/cache"
	"transcode-service/repository"
)

// Dispatcher hands a job message to whatever executes it: the rabbitmq
// publisher in production, an in-process goroutine in tests.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg dto.JobMessage) error
}

type Service interface {
	CreateMedia(ctx context.Context, req dto.CreateMediaRequest) (*entities.MediaItem, error)
	DeleteMedia(ctx context.Context, mediaId uuid.UUID) error

	// Submit is the fast, synchronous path called by the web layer. The
	// heavy lifting happens in Execute on the worker pool.
	Submit(ctx context.Context, mediaId uuid.UUID) (uuid.UUID, error)
	Execute(ctx context.Context, msg dto.JobMessage) error
	GetStatus(ctx context.Context, mediaId uuid.UUID) (*dto.StatusResponse, error)
	Cancel(ctx context.Context, jobId uuid.UUID) error
	RequeueStale(ctx context.Context, olderThan time.Duration) ([]dto.RequeuedJob, error)
}

type service struct {
	repo      repository.Repository
	dispatch  Dispatcher
	encoder   Encoder
	cache     cache.StatusCache
	cfg       *config.Config
	publisher ArtifactPublisher

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

func NewService(repo repository.Repository, dispatch Dispatcher, encoder Encoder, statusCache cache.StatusCache, publisher ArtifactPublisher, cfg *config.Config) Service {
	return &service{
		repo:      repo,
		dispatch:  dispatch,
		encoder:   encoder,
		cache:     statusCache,
		cfg:       cfg,
		publisher: publisher,
		running:   make(map[uuid.UUID]context.CancelFunc),
	}
}

func (s *service) CreateMedia(ctx context.Context, req dto.CreateMediaRequest) (*entities.MediaItem, error) {
	if !strings.EqualFold(filepath.Ext(req.SourcePath), ".mp4") {
		return nil, ErrNotMp4
	}

	item := &entities.MediaItem{
		Id:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		SourcePath:  req.SourcePath,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.CreateMediaItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteMedia removes the row, the source file and the item's own HLS output
// directory. Cleanup is scoped to exactly what the item owns; nothing else
// under the media root is touched.
func (s *service) DeleteMedia(ctx context.Context, mediaId uuid.UUID) error {
	item, err := s.repo.FindMediaItemById(ctx, mediaId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMediaNotFound
		}
		return err
	}

	if active, err := s.repo.FindActiveJobByMediaId(ctx, mediaId); err == nil && active != nil {
		s.cancelRunning(active.Id)
	}

	if item.SourcePath != "" {
		if err := os.Remove(item.SourcePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove source file: %w", err)
		}
	}
	if err := os.RemoveAll(s.outputDir(mediaId)); err != nil {
		return fmt.Errorf("remove hls artifacts: %w", err)
	}

	if err := s.repo.DeleteMediaItem(ctx, mediaId); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, mediaId)
	return nil
}

func (s *service) Submit(ctx context.Context, mediaId uuid.UUID) (uuid.UUID, error) {
	item, err := s.repo.FindMediaItemById(ctx, mediaId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, ErrMediaNotFound
		}
		return uuid.Nil, err
	}

	// The converted flag on the media item is the durable idempotency
	// check; a job may have finished after a crash without any caller
	// observing the transition.
	if item.IsConverted || item.HlsPlaylist != "" {
		return uuid.Nil, ErrAlreadyConverted
	}

	active, err := s.repo.FindActiveJobByMediaId(ctx, mediaId)
	if err != nil {
		return uuid.Nil, err
	}
	if active != nil {
		return active.Id, ErrJobAlreadyActive
	}

	job := &entities.TranscodeJob{
		Id:          uuid.New(),
		MediaItemId: mediaId,
		Status:      constant.JobStatusQueued,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return uuid.Nil, err
	}

	if err := s.dispatch.Dispatch(ctx, dto.JobMessage{JobId: job.Id, MediaItemId: mediaId}); err != nil {
		msg := fmt.Sprintf("dispatch failed: %v", err)
		if _, updateErr := s.repo.TransitionJobStatus(ctx, job.Id, constant.JobStatusQueued, constant.JobStatusFailed, &msg); updateErr != nil {
			zerolog.Ctx(ctx).Error().Err(updateErr).Msg("failed to mark undispatched job failed")
		}
		return uuid.Nil, err
	}

	s.cache.Invalidate(ctx, mediaId)
	zerolog.Ctx(ctx).Info().Str("job_id", job.Id.String()).Str("media_id", mediaId.String()).Msg("transcode job queued")
	return job.Id, nil
}

// Execute runs one job to a terminal state. Domain failures (missing source,
// encoder exit, cancel) are captured into the job row and swallowed so the
// delivery is acked; only infrastructure errors propagate and requeue the
// message. A panic in one job never reaches the worker pool.
func (s *service) Execute(ctx context.Context, msg dto.JobMessage) (err error) {
	log := zerolog.Ctx(ctx).With().Str("job_id", msg.JobId.String()).Str("media_id", msg.MediaItemId.String()).Logger()

	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("panic: %v", r)
			log.Error().Str("detail", detail).Msg("job panicked")
			s.failJob(ctx, msg.JobId, msg.MediaItemId, detail)
			err = nil
		}
	}()

	job, err := s.repo.FindJobById(ctx, msg.JobId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().Msg("job not found, dropping message")
			return nil
		}
		return err
	}

	if job.Status != constant.JobStatusQueued {
		log.Info().Str("status", string(job.Status)).Msg("job is not queued, skipping")
		return nil
	}

	item, err := s.repo.FindMediaItemById(ctx, msg.MediaItemId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.failJob(ctx, msg.JobId, msg.MediaItemId, "media item deleted before transcode started")
			return nil
		}
		return err
	}

	if item.IsConverted {
		log.Info().Msg("media already converted, completing job as no-op")
		if _, err := s.repo.TransitionJobStatus(ctx, job.Id, constant.JobStatusQueued, constant.JobStatusSucceeded, nil); err != nil {
			return err
		}
		s.cache.Invalidate(ctx, msg.MediaItemId)
		return nil
	}

	execCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[job.Id] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.running, job.Id)
		s.mu.Unlock()
	}()

	ok, err := s.repo.TransitionJobStatus(ctx, job.Id, constant.JobStatusQueued, constant.JobStatusRunning, nil)
	if err != nil {
		return err
	}
	if !ok {
		log.Info().Msg("job claimed by another writer, skipping")
		return nil
	}
	s.cache.Invalidate(ctx, msg.MediaItemId)

	outputDir := s.outputDir(item.Id)
	log.Info().Str("source", item.SourcePath).Str("output_dir", outputDir).Msg("transcoding to hls")

	manifestPath, encodeErr := s.encoder.Transcode(execCtx, item.SourcePath, outputDir, func(line string) {
		snapshot, ok := ExtractRemaining(line)
		if !ok {
			return
		}
		eta := int(snapshot.Remaining.Seconds())
		if updateErr := s.repo.UpdateJobEta(ctx, job.Id, eta); updateErr != nil {
			log.Warn().Err(updateErr).Msg("failed to record progress")
			return
		}
		s.cache.Set(ctx, &dto.StatusResponse{
			MediaItemId: item.Id,
			State:       string(constant.JobStatusRunning),
			EtaSeconds:  &eta,
		})
	})
	if encodeErr != nil {
		log.Error().Err(encodeErr).Msg("transcode failed")
		s.failJob(ctx, job.Id, item.Id, encodeErr.Error())
		return nil
	}

	if s.publisher != nil {
		if pubErr := s.publisher.PublishDir(ctx, outputDir, path.Join("hls", item.Id.String())); pubErr != nil {
			log.Warn().Err(pubErr).Msg("failed to publish hls artifacts to object storage")
		}
	}

	// Claim the terminal transition before touching the media item: if the
	// job was failed underneath us (cancel, stale requeue), a fresh job now
	// owns this media item and our output must not be recorded.
	ok, err = s.repo.TransitionJobStatus(ctx, job.Id, constant.JobStatusRunning, constant.JobStatusSucceeded, nil)
	if err != nil {
		return err
	}
	if !ok {
		log.Info().Msg("job superseded while encoding, discarding result")
		s.cache.Invalidate(ctx, item.Id)
		return nil
	}

	playlistUrl := s.manifestUrl(item.Id)
	if err := s.repo.MarkMediaItemConverted(ctx, item.Id, playlistUrl); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, item.Id)

	log.Info().Str("manifest", manifestPath).Str("playlist_url", playlistUrl).Msg("transcode completed")
	return nil
}

func (s *service) GetStatus(ctx context.Context, mediaId uuid.UUID) (*dto.StatusResponse, error) {
	if status, ok := s.cache.Get(ctx, mediaId); ok {
		return status, nil
	}

	item, err := s.repo.FindMediaItemById(ctx, mediaId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMediaNotFound
		}
		return nil, err
	}

	status := &dto.StatusResponse{MediaItemId: mediaId}

	job, err := s.repo.FindLatestJobByMediaId(ctx, mediaId)
	if err != nil {
		return nil, err
	}

	switch {
	case item.IsConverted:
		status.State = string(constant.JobStatusSucceeded)
		status.ManifestUrl = item.HlsPlaylist
	case job == nil:
		status.State = "none"
	default:
		status.State = string(job.Status)
		switch job.Status {
		case constant.JobStatusRunning:
			status.EtaSeconds = job.EtaSeconds
		case constant.JobStatusFailed:
			if job.ErrorMessage != nil {
				status.Error = *job.ErrorMessage
			}
		}
	}

	s.cache.Set(ctx, status)
	return status, nil
}

// Cancel terminates a running encoder and marks its job failed. The
// terminal-state write happens in Execute once the process dies.
func (s *service) Cancel(ctx context.Context, jobId uuid.UUID) error {
	job, err := s.repo.FindJobById(ctx, jobId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrJobNotFound
		}
		return err
	}

	if job.Status.Terminal() {
		return ErrJobNotActive
	}

	if job.Status == constant.JobStatusQueued {
		msg := "cancelled before start"
		ok, err := s.repo.TransitionJobStatus(ctx, jobId, constant.JobStatusQueued, constant.JobStatusFailed, &msg)
		if err != nil {
			return err
		}
		if ok {
			s.cache.Invalidate(ctx, job.MediaItemId)
			return nil
		}
		// A worker picked it up between the read and the write; fall
		// through and cancel the live encoder instead.
	}

	if !s.cancelRunning(jobId) {
		// Running on another instance, or its worker is gone; stale
		// requeue is the recovery path for the latter.
		return ErrJobNotActive
	}
	return nil
}

// RequeueStale fails RUNNING jobs whose last progress update is older than
// the threshold and submits a fresh job for each affected media item. This
// is an operator action; nothing retries automatically.
func (s *service) RequeueStale(ctx context.Context, olderThan time.Duration) ([]dto.RequeuedJob, error) {
	stale, err := s.repo.FindStaleRunningJobs(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return nil, err
	}

	requeued := make([]dto.RequeuedJob, 0, len(stale))
	for _, job := range stale {
		// Kill any local encoder first so it cannot race the FAILED write
		// or keep churning against the same source as the replacement job.
		s.cancelRunning(job.Id)

		msg := fmt.Sprintf("stalled: no progress since %s", job.UpdatedAt.Format(time.RFC3339))
		ok, err := s.repo.TransitionJobStatus(ctx, job.Id, constant.JobStatusRunning, constant.JobStatusFailed, &msg)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("job_id", job.Id.String()).Msg("failed to mark stale job failed")
			continue
		}
		if !ok {
			// The job reached a terminal state on its own since the
			// stale scan; nothing to recover.
			zerolog.Ctx(ctx).Info().Str("job_id", job.Id.String()).Msg("stale job already terminal, skipping")
			continue
		}
		s.cache.Invalidate(ctx, job.MediaItemId)

		newJobId, err := s.Submit(ctx, job.MediaItemId)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("media_id", job.MediaItemId.String()).Msg("stale job not requeued")
			continue
		}
		requeued = append(requeued, dto.RequeuedJob{
			MediaItemId: job.MediaItemId,
			StaleJobId:  job.Id,
			NewJobId:    newJobId,
		})
	}
	return requeued, nil
}

func (s *service) cancelRunning(jobId uuid.UUID) bool {
	s.mu.Lock()
	cancel, ok := s.running[jobId]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *service) failJob(ctx context.Context, jobId, mediaId uuid.UUID, detail string) {
	ok, err := s.repo.TransitionJobStatus(ctx, jobId, constant.JobStatusRunning, constant.JobStatusFailed, &detail)
	if err == nil && !ok {
		// Failures before the job ever started running.
		ok, err = s.repo.TransitionJobStatus(ctx, jobId, constant.JobStatusQueued, constant.JobStatusFailed, &detail)
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("job_id", jobId.String()).Msg("failed to record job failure")
	} else if !ok {
		zerolog.Ctx(ctx).Info().Str("job_id", jobId.String()).Msg("job already terminal, failure not recorded")
	}
	s.cache.Invalidate(ctx, mediaId)
}

// outputDir is <media_root>/videos/hls/<mediaId>; one directory per item.
func (s *service) outputDir(mediaId uuid.UUID) string {
	return filepath.Join(s.cfg.Transcode.MediaRoot, "videos", "hls", mediaId.String())
}

// manifestUrl is <media_base_url>/hls/<mediaId>/output.m3u8.
func (s *service) manifestUrl(mediaId uuid.UUID) string {
	return fmt.Sprintf("%s/hls/%s/%s", strings.TrimSuffix(s.cfg.Transcode.MediaBaseUrl, "/"), mediaId, PlaylistName)
}
