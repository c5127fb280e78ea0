package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"sc_archive/internal/domain"
)

const trackColumns = `id, user_id, artwork_url, description, full_duration, last_modified,
	permalink_url, title, downloadable, purchase_url, deleted, file_path`

type TrackStore struct {
	db *sqlx.DB
}

func NewTrackStore(db *sqlx.DB) *TrackStore {
	return &TrackStore{db: db}
}

// ByArtist returns every persisted track of the artist, deleted ones included.
func (s *TrackStore) ByArtist(ctx context.Context, artistID int64) ([]domain.Track, error) {
	var tracks []domain.Track
	query := `SELECT ` + trackColumns + ` FROM track WHERE user_id = $1 ORDER BY id`

	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &tracks, query, artistID); err != nil {
		return nil, fmt.Errorf("select tracks of artist %d: %w", artistID, err)
	}

	for i := range tracks {
		t := &tracks[i]
		t.LastModified = domain.NormalizeTime(t.LastModified)
		if t.Deleted != nil {
			d := domain.NormalizeTime(*t.Deleted)
			t.Deleted = &d
		}
	}
	return tracks, nil
}

func (s *TrackStore) Insert(ctx context.Context, track *domain.Track) error {
	query := `
		INSERT INTO track (` + trackColumns + `)
		VALUES (:id, :user_id, :artwork_url, :description, :full_duration, :last_modified,
			:permalink_url, :title, :downloadable, :purchase_url, :deleted, :file_path)`

	if _, err := sqlx.NamedExecContext(ctx, GetExecutor(ctx, s.db), query, track); err != nil {
		return fmt.Errorf("insert track %d: %w", track.ID, err)
	}
	return nil
}

func (s *TrackStore) Update(ctx context.Context, track *domain.Track) error {
	query := `
		UPDATE track SET
			user_id = :user_id,
			artwork_url = :artwork_url,
			description = :description,
			full_duration = :full_duration,
			last_modified = :last_modified,
			permalink_url = :permalink_url,
			title = :title,
			downloadable = :downloadable,
			purchase_url = :purchase_url,
			deleted = :deleted,
			file_path = :file_path
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, GetExecutor(ctx, s.db), query, track)
	if err != nil {
		return fmt.Errorf("update track %d: %w", track.ID, err)
	}
	return expectOneRow(res, "track", track.ID)
}

func expectOneRow(res sql.Result, table string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s %d: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s %d: %w", table, id, domain.ErrNotFound)
	}
	return nil
}
