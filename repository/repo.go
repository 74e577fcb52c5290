package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"transcode-service/constant"
	"transcode-service/entities"
)

var ErrNotFound = errors.New("record not found")

type Repository interface {
	Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error

	CreateMediaItem(ctx context.Context, item *entities.MediaItem) error
	FindMediaItemById(ctx context.Context, id uuid.UUID) (*entities.MediaItem, error)
	MarkMediaItemConverted(ctx context.Context, id uuid.UUID, playlistUrl string) error
	DeleteMediaItem(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *entities.TranscodeJob) error
	FindJobById(ctx context.Context, id uuid.UUID) (*entities.TranscodeJob, error)
	// FindActiveJobByMediaId returns the QUEUED or RUNNING job for the
	// media item, or nil when there is none.
	FindActiveJobByMediaId(ctx context.Context, mediaId uuid.UUID) (*entities.TranscodeJob, error)
	FindLatestJobByMediaId(ctx context.Context, mediaId uuid.UUID) (*entities.TranscodeJob, error)
	// TransitionJobStatus atomically moves the job from one status to
	// another. It returns false when the row is no longer in the expected
	// status, which is how terminal-state immutability is enforced: a
	// finished or superseded job cannot be flipped by a racing writer.
	TransitionJobStatus(ctx context.Context, id uuid.UUID, from, to constant.JobStatus, errorMessage *string) (bool, error)
	UpdateJobEta(ctx context.Context, id uuid.UUID, etaSeconds int) error
	FindStaleRunningJobs(ctx context.Context, updatedBefore time.Time) ([]*entities.TranscodeJob, error)
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) (Repository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, err
	}
	if err := gormDB.AutoMigrate(&entities.MediaItem{}, &entities.TranscodeJob{}); err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return r.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return callback(ctx)
	}, opts...)
}

func (r *repo) CreateMediaItem(ctx context.Context, item *entities.MediaItem) error {
	return r.GetDB().WithContext(ctx).Create(item).Error
}

func (r *repo) FindMediaItemById(ctx context.Context, id uuid.UUID) (*entities.MediaItem, error) {
	item := &entities.MediaItem{}
	err := r.GetDB().WithContext(ctx).First(item, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return item, nil
}

func (r *repo) MarkMediaItemConverted(ctx context.Context, id uuid.UUID, playlistUrl string) error {
	updates := map[string]interface{}{
		"hls_playlist": playlistUrl,
		"is_converted": true,
	}
	return r.GetDB().WithContext(ctx).Model(&entities.MediaItem{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repo) DeleteMediaItem(ctx context.Context, id uuid.UUID) error {
	return r.GetDB().WithContext(ctx).Delete(&entities.MediaItem{}, "id = ?", id).Error
}

func (r *repo) CreateJob(ctx context.Context, job *entities.TranscodeJob) error {
	return r.GetDB().WithContext(ctx).Create(job).Error
}

func (r *repo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.TranscodeJob, error) {
	job := &entities.TranscodeJob{}
	err := r.GetDB().WithContext(ctx).First(job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return job, nil
}

func (r *repo) FindActiveJobByMediaId(ctx context.Context, mediaId uuid.UUID) (*entities.TranscodeJob, error) {
	job := &entities.TranscodeJob{}
	err := r.GetDB().WithContext(ctx).
		Where("media_item_id = ? AND status IN ?", mediaId, []constant.JobStatus{constant.JobStatusQueued, constant.JobStatusRunning}).
		Order("created_at DESC").
		First(job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return job, nil
}

func (r *repo) FindLatestJobByMediaId(ctx context.Context, mediaId uuid.UUID) (*entities.TranscodeJob, error) {
	job := &entities.TranscodeJob{}
	err := r.GetDB().WithContext(ctx).
		Where("media_item_id = ?", mediaId).
		Order("created_at DESC").
		First(job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return job, nil
}

func (r *repo) TransitionJobStatus(ctx context.Context, id uuid.UUID, from, to constant.JobStatus, errorMessage *string) (bool, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": now,
	}
	if to == constant.JobStatusRunning {
		updates["started_at"] = now
	}
	if to.Terminal() {
		updates["finished_at"] = now
	}
	if errorMessage != nil {
		updates["error_message"] = *errorMessage
	}
	res := r.GetDB().WithContext(ctx).Model(&entities.TranscodeJob{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateJobEta(ctx context.Context, id uuid.UUID, etaSeconds int) error {
	updates := map[string]interface{}{
		"eta_seconds": etaSeconds,
		"updated_at":  time.Now(),
	}
	return r.GetDB().WithContext(ctx).Model(&entities.TranscodeJob{}).Where("id = ?", id).Updates(updates).Error
}

func (r *repo) FindStaleRunningJobs(ctx context.Context, updatedBefore time.Time) ([]*entities.TranscodeJob, error) {
	var jobs []*entities.TranscodeJob
	err := r.GetDB().WithContext(ctx).
		Where("status = ? AND updated_at < ?", constant.JobStatusRunning, updatedBefore).
		Order("updated_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
