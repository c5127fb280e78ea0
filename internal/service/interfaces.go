package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"sc_archive/internal/domain"
	"sc_archive/internal/downloader"
)

type Source interface {
	ValidateSession(ctx context.Context) error
	Me(ctx context.Context) (int64, error)
	Followings(ctx context.Context, userID int64) ([]domain.Artist, error)
	Tracks(ctx context.Context, userID int64) ([]domain.Track, error)
	// GetUser returns nil, nil when the user does not exist.
	GetUser(ctx context.Context, id int64) (*domain.Artist, error)
}

type ArtistStore interface {
	All(ctx context.Context) ([]domain.Artist, error)
	Insert(ctx context.Context, artist *domain.Artist) error
	Update(ctx context.Context, artist *domain.Artist) error
}

type TrackStore interface {
	ByArtist(ctx context.Context, artistID int64) ([]domain.Track, error)
	Insert(ctx context.Context, track *domain.Track) error
	Update(ctx context.Context, track *domain.Track) error
}

type SyncStateStore interface {
	Get(ctx context.Context, accountID int64) (*domain.SyncState, error)
	Update(ctx context.Context, state *domain.SyncState) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	PublishArtist(ctx context.Context, event domain.EventType, changes domain.Changes, artist *domain.Artist) error
	PublishTrack(ctx context.Context, event domain.EventType, changes domain.Changes, artist *domain.Artist, track *domain.Track) error
	PublishError(ctx context.Context, message string) error
	Close() error
}

type Downloader interface {
	Download(ctx context.Context, artistID int64, track *domain.Track) downloader.Result
}
