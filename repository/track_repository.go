package repository

import (
	"context"
	"errors"
	"fmt"

	"DeckPilot/model"

	"gorm.io/gorm"
)

// ErrTrackNotFound is returned by GetTrack for unknown ids.
var ErrTrackNotFound = errors.New("track not found")

// TrackRepository is the metadata store of the DJ library.
type TrackRepository interface {
	GetTrack(ctx context.Context, id int64) (*model.Track, error)
	ListTracks(ctx context.Context) ([]model.Track, error)
	// FindByTempoRange returns tracks with min <= tempo <= max.
	FindByTempoRange(ctx context.Context, min, max float64) ([]model.Track, error)
	// UpsertTracks inserts tracks, updating existing rows with the same path.
	UpsertTracks(ctx context.Context, tracks []model.Track) (created, updated int, err error)
	Count(ctx context.Context) (int64, error)
}

// gormTrackRepository is the GORM implementation.
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository creates a gorm-backed track repository.
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// GetTrack fetches a track by id.
func (r *gormTrackRepository) GetTrack(ctx context.Context, id int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).First(&track, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrTrackNotFound, id)
		}
		return nil, err
	}
	return &track, nil
}

// ListTracks returns the whole library.
func (r *gormTrackRepository) ListTracks(ctx context.Context) ([]model.Track, error) {
	var tracks []model.Track
	err := r.db.WithContext(ctx).Order("id ASC").Find(&tracks).Error
	return tracks, err
}

// FindByTempoRange queries by BPM range.
func (r *gormTrackRepository) FindByTempoRange(ctx context.Context, min, max float64) ([]model.Track, error) {
	var tracks []model.Track
	err := r.db.WithContext(ctx).
		Where("tempo >= ? AND tempo <= ?", min, max).
		Order("id ASC").
		Find(&tracks).Error
	return tracks, err
}

// UpsertTracks imports in bulk, keyed by path.
func (r *gormTrackRepository) UpsertTracks(ctx context.Context, tracks []model.Track) (created, updated int, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range tracks {
			t := tracks[i]
			var existing model.Track
			res := tx.Where("path = ?", t.Path).Limit(1).Find(&existing)
			if res.Error != nil {
				return res.Error
			}
			if t.Path == "" || res.RowsAffected == 0 {
				t.ID = 0
				if err := tx.Create(&t).Error; err != nil {
					return fmt.Errorf("create %q: %w", t.Title, err)
				}
				created++
				continue
			}
			t.ID = existing.ID
			t.CreatedAt = existing.CreatedAt
			if err := tx.Save(&t).Error; err != nil {
				return fmt.Errorf("update %q: %w", t.Title, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

// Count returns the number of tracks.
func (r *gormTrackRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Track{}).Count(&n).Error
	return n, err
}
