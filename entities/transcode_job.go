package entities

import (
	"time"

	"github.com/google/uuid"

	"transcode-service/constant"
)

// TranscodeJob is one conversion attempt against a media item. Rows in a
// terminal status are never mutated; a re-run creates a fresh row.
// UpdatedAt doubles as the progress heartbeat used by stale detection.
type TranscodeJob struct {
	Id           uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	MediaItemId  uuid.UUID          `gorm:"column:media_item_id;type:uuid;index" json:"media_item_id"`
	Status       constant.JobStatus `gorm:"column:status;type:varchar(20);index" json:"status"`
	EtaSeconds   *int               `gorm:"column:eta_seconds" json:"eta_seconds,omitempty"`
	ErrorMessage *string            `gorm:"column:error_message;type:varchar(500)" json:"error_message,omitempty"`
	CreatedAt    time.Time          `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time          `gorm:"column:updated_at" json:"updated_at"`
	StartedAt    *time.Time         `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time         `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (TranscodeJob) TableName() string {
	return "transcode_jobs"
}
