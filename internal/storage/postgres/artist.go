package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"sc_archive/internal/domain"
)

const artistColumns = `id, avatar_url, last_modified, permalink_url, username, deleted, tracking`

type ArtistStore struct {
	db *sqlx.DB
}

func NewArtistStore(db *sqlx.DB) *ArtistStore {
	return &ArtistStore{db: db}
}

// All returns every artist ever seen, including unfollowed and deleted ones.
func (s *ArtistStore) All(ctx context.Context) ([]domain.Artist, error) {
	var artists []domain.Artist
	query := `SELECT ` + artistColumns + ` FROM artist ORDER BY id`

	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &artists, query); err != nil {
		return nil, fmt.Errorf("select artists: %w", err)
	}

	for i := range artists {
		normalizeArtist(&artists[i])
	}
	return artists, nil
}

func (s *ArtistStore) Insert(ctx context.Context, artist *domain.Artist) error {
	query := `
		INSERT INTO artist (` + artistColumns + `)
		VALUES (:id, :avatar_url, :last_modified, :permalink_url, :username, :deleted, :tracking)`

	if _, err := sqlx.NamedExecContext(ctx, GetExecutor(ctx, s.db), query, artist); err != nil {
		return fmt.Errorf("insert artist %d: %w", artist.ID, err)
	}
	return nil
}

func (s *ArtistStore) Update(ctx context.Context, artist *domain.Artist) error {
	query := `
		UPDATE artist SET
			avatar_url = :avatar_url,
			last_modified = :last_modified,
			permalink_url = :permalink_url,
			username = :username,
			deleted = :deleted,
			tracking = :tracking
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, GetExecutor(ctx, s.db), query, artist)
	if err != nil {
		return fmt.Errorf("update artist %d: %w", artist.ID, err)
	}
	return expectOneRow(res, "artist", artist.ID)
}

func normalizeArtist(a *domain.Artist) {
	a.LastModified = domain.NormalizeTime(a.LastModified)
	if a.Deleted != nil {
		t := domain.NormalizeTime(*a.Deleted)
		a.Deleted = &t
	}
}
