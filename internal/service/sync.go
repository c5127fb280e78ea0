package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sc_archive/internal/domain"
)

// SyncService runs one reconciliation cycle: followed artists and their
// tracks against the database, downloading and publishing along the way.
type SyncService struct {
	source     Source
	artists    ArtistStore
	tracks     TrackStore
	syncState  SyncStateStore
	txManager  TransactionManager
	publisher  Publisher
	downloader Downloader
	logger     *slog.Logger
	now        func() time.Time
}

func NewSyncService(
	source Source,
	artists ArtistStore,
	tracks TrackStore,
	syncState SyncStateStore,
	txManager TransactionManager,
	publisher Publisher,
	downloader Downloader,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		source:     source,
		artists:    artists,
		tracks:     tracks,
		syncState:  syncState,
		txManager:  txManager,
		publisher:  publisher,
		downloader: downloader,
		logger:     logger.With("component", "sync"),
		now:        func() time.Time { return domain.NormalizeTime(time.Now()) },
	}
}

func (s *SyncService) Sync(ctx context.Context) (*domain.SyncStats, error) {
	startTime := time.Now()

	if err := s.source.ValidateSession(ctx); err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}

	accountID, err := s.source.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}

	s.logger.Info("starting sync", "account_id", accountID)

	stats := &domain.SyncStats{}
	if err := s.reconcileArtists(ctx, accountID, stats); err != nil {
		return stats, err
	}

	if err := s.updateSyncState(ctx, accountID, stats); err != nil {
		return stats, fmt.Errorf("update sync state: %w", err)
	}

	stats.Duration = time.Since(startTime)

	s.logger.Info("sync completed",
		"artists", stats.Artists,
		"artists_new", stats.ArtistsNew,
		"artists_updated", stats.ArtistsUpdated,
		"artists_deleted", stats.ArtistsDeleted,
		"unfollowed", stats.Unfollowed,
		"tracks", stats.Tracks,
		"tracks_new", stats.TracksNew,
		"tracks_updated", stats.TracksUpdated,
		"tracks_deleted", stats.TracksDeleted,
		"downloads", stats.Downloads,
		"download_errors", stats.DownloadErrors,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)

	return stats, nil
}

func (s *SyncService) updateSyncState(ctx context.Context, accountID int64, stats *domain.SyncStats) error {
	state, err := s.syncState.Get(ctx, accountID)
	if err != nil {
		return err
	}

	state.AccountID = accountID
	state.LastSyncedAt = time.Now()
	state.TotalChanges += int64(stats.ArtistsNew + stats.ArtistsUpdated + stats.ArtistsDeleted +
		stats.TracksNew + stats.TracksUpdated + stats.TracksDeleted)

	return s.syncState.Update(ctx, state)
}

// report logs err and forwards message to the errors exchange. A failure to
// publish the report is only logged.
func (s *SyncService) report(ctx context.Context, message string, err error, attrs ...any) {
	s.logger.Error(message, append(attrs, "error", err)...)

	if pubErr := s.publisher.PublishError(ctx, message); pubErr != nil {
		s.logger.Warn("failed to publish error", "error", pubErr)
	}
}

// IsCycleFatal reports whether err must abort the whole cycle rather than
// just the artist being processed.
func IsCycleFatal(err error) bool {
	var upstream *domain.UpstreamError
	return errors.Is(err, domain.ErrSessionInvalid) ||
		errors.As(err, &upstream) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
