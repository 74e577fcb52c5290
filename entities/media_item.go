package entities

import (
	"time"

	"github.com/google/uuid"
)

type MediaItem struct {
	Id            uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name          string    `gorm:"column:name;type:varchar(100)" json:"name"`
	Description   string    `gorm:"column:description;type:varchar(255)" json:"description"`
	SourcePath    string    `gorm:"column:source_path;type:varchar(512)" json:"source_path"`
	ThumbnailPath string    `gorm:"column:thumbnail_path;type:varchar(512)" json:"thumbnail_path,omitempty"`
	HlsPlaylist   string    `gorm:"column:hls_playlist;type:varchar(512)" json:"hls_playlist,omitempty"`
	IsConverted   bool      `gorm:"column:is_converted;default:false" json:"is_converted"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (MediaItem) TableName() string {
	return "media_items"
}
