package model

import (
	"fmt"
	"time"
)

// Track represents one analyzed track in the DJ library. Tempo and key are
// pre-computed by the ingestion process; the performer never analyzes audio.
type Track struct {
	ID                int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Title             string    `json:"title" gorm:"size:255;not null"`
	Path              string    `json:"path" gorm:"size:767"`
	Tempo             float64   `json:"tempo" gorm:"index"`       // beats per minute, 0 when unknown
	Key               string    `json:"key" gorm:"size:8"`        // Camelot notation, e.g. "8A"
	FolderPosition    *int      `json:"folderPosition,omitempty"` // folder ordinal in the collapsed root list
	HierarchyPosition int       `json:"hierarchyPosition"`        // ordinal inside the folder (or root list)
	DurationSec       float64   `json:"durationSec"`              // approximate duration in seconds
	Energy            float64   `json:"energy"`                   // 0..1, optional
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// TableName pins the gorm table name.
func (Track) TableName() string {
	return "tracks"
}

// Location returns where the track lives in the browser.
func (t *Track) Location() BrowserLocation {
	return BrowserLocation{Folder: t.FolderPosition, Index: t.HierarchyPosition}
}

// OffsetKey is the offset table key for this track.
func (t *Track) OffsetKey() string {
	return fmt.Sprintf("track:%d", t.ID)
}

// Duration returns the approximate duration as a time.Duration.
func (t *Track) Duration() time.Duration {
	return time.Duration(t.DurationSec * float64(time.Second))
}
