package service

import (
	"context"
	"fmt"
	"sort"

	"sc_archive/internal/domain"
)

func (s *SyncService) reconcileArtists(ctx context.Context, accountID int64, stats *domain.SyncStats) error {
	persisted, err := s.artists.All(ctx)
	if err != nil {
		return fmt.Errorf("load artists: %w", err)
	}

	known := make(map[int64]*domain.Artist, len(persisted))
	for i := range persisted {
		known[persisted[i].ID] = &persisted[i]
	}

	remote, err := s.source.Followings(ctx, accountID)
	if err != nil {
		return fmt.Errorf("fetch followings: %w", err)
	}
	stats.Artists = len(remote)

	for i := range remote {
		artist := &remote[i]
		old := known[artist.ID]
		delete(known, artist.ID)

		if err := s.syncArtist(ctx, artist, old, stats); err != nil {
			if IsCycleFatal(err) {
				return err
			}
			stats.Errors++
			s.report(ctx, fmt.Sprintf("Could not sync artist %s: %v", artist.PermalinkURL, err), err,
				"artist_id", artist.ID)
		}
	}

	// What is left is no longer followed: unfollowed or gone upstream.
	remaining := make([]*domain.Artist, 0, len(known))
	for _, a := range known {
		remaining = append(remaining, a)
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].ID < remaining[j].ID })

	for _, old := range remaining {
		if err := s.retireArtist(ctx, old, stats); err != nil {
			if IsCycleFatal(err) {
				return err
			}
			stats.Errors++
			s.report(ctx, fmt.Sprintf("Could not retire artist %s: %v", old.PermalinkURL, err), err,
				"artist_id", old.ID)
		}
	}

	return nil
}

// syncArtist commits the artist row before its tracks are reconciled, since
// track events carry the artist as stored.
func (s *SyncService) syncArtist(ctx context.Context, remote, old *domain.Artist, stats *domain.SyncStats) error {
	var (
		current *domain.Artist
		err     error
	)
	if old == nil {
		current, err = s.insertArtist(ctx, remote, stats)
	} else {
		current, err = s.updateArtist(ctx, old, remote, stats)
	}
	if err != nil {
		return err
	}

	return s.reconcileTracks(ctx, current, stats)
}

func (s *SyncService) insertArtist(ctx context.Context, remote *domain.Artist, stats *domain.SyncStats) (*domain.Artist, error) {
	artist := *remote
	artist.LastModified = domain.NormalizeTime(remote.LastModified)
	artist.Deleted = nil
	artist.Tracking = true

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		return s.artists.Insert(ctx, &artist)
	})
	if err != nil {
		return nil, fmt.Errorf("insert artist: %w", err)
	}
	stats.ArtistsNew++

	s.logger.Info("artist created", "artist_id", artist.ID, "username", artist.Username)

	if err := s.publisher.PublishArtist(ctx, domain.EventCreated, nil, &artist); err != nil {
		return nil, fmt.Errorf("publish artist created: %w", err)
	}
	return &artist, nil
}

// updateArtist applies the remote state when the artist changed upstream, was
// soft-deleted, or had been unfollowed and is followed again.
func (s *SyncService) updateArtist(ctx context.Context, old, remote *domain.Artist, stats *domain.SyncStats) (*domain.Artist, error) {
	unchanged := old.LastModified.Equal(domain.NormalizeTime(remote.LastModified))
	if unchanged && !old.IsDeleted() && old.Tracking {
		return old, nil
	}

	artist := *old
	changes := artist.ApplyRemote(remote)
	if artist.Deleted != nil {
		changes = append(changes, domain.DeletedChange(*artist.Deleted))
		artist.Deleted = nil
	}
	artist.Tracking = true

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		return s.artists.Update(ctx, &artist)
	})
	if err != nil {
		return nil, fmt.Errorf("update artist: %w", err)
	}

	if len(changes) == 0 {
		return &artist, nil
	}
	stats.ArtistsUpdated++

	s.logger.Info("artist updated", "artist_id", artist.ID, "changes", len(changes))

	if err := s.publisher.PublishArtist(ctx, domain.EventUpdated, changes, &artist); err != nil {
		return nil, fmt.Errorf("publish artist updated: %w", err)
	}
	return &artist, nil
}

// retireArtist handles a tracked artist missing from the followings. The
// existence probe decides between unfollowed and deleted; an inconclusive
// probe leaves the row alone.
func (s *SyncService) retireArtist(ctx context.Context, old *domain.Artist, stats *domain.SyncStats) error {
	if !old.Tracking {
		return nil
	}

	found, err := s.source.GetUser(ctx, old.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		stats.Errors++
		s.report(ctx, fmt.Sprintf("Could not check artist %s: %v", old.PermalinkURL, err), err,
			"artist_id", old.ID)
		return nil
	}

	artist := *old
	artist.Tracking = false

	if found != nil {
		err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
			return s.artists.Update(ctx, &artist)
		})
		if err != nil {
			return fmt.Errorf("mark artist unfollowed: %w", err)
		}
		stats.Unfollowed++
		s.logger.Info("artist unfollowed", "artist_id", artist.ID)
		return nil
	}

	deleted := s.now()
	artist.Deleted = &deleted

	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		return s.artists.Update(ctx, &artist)
	})
	if err != nil {
		return fmt.Errorf("delete artist: %w", err)
	}
	stats.ArtistsDeleted++

	s.logger.Info("artist deleted", "artist_id", artist.ID)

	if err := s.publisher.PublishArtist(ctx, domain.EventDeleted, nil, &artist); err != nil {
		return fmt.Errorf("publish artist deleted: %w", err)
	}
	return nil
}
