package service

import (
	"context"
	"fmt"
	"sort"

	"sc_archive/internal/domain"
)

// reconcileTracks brings the tracks of one artist in line with the API. Every
// track is committed on its own so a failure keeps the siblings before it.
func (s *SyncService) reconcileTracks(ctx context.Context, artist *domain.Artist, stats *domain.SyncStats) error {
	persisted, err := s.tracks.ByArtist(ctx, artist.ID)
	if err != nil {
		return fmt.Errorf("load tracks: %w", err)
	}

	pending := make(map[int64]*domain.Track, len(persisted))
	for i := range persisted {
		pending[persisted[i].ID] = &persisted[i]
	}

	remote, err := s.source.Tracks(ctx, artist.ID)
	if err != nil {
		return fmt.Errorf("fetch tracks: %w", err)
	}
	stats.Tracks += len(remote)

	for i := range remote {
		track := &remote[i]
		old, seen := pending[track.ID]
		delete(pending, track.ID)

		if seen {
			err = s.updateTrack(ctx, artist, old, track, stats)
		} else {
			err = s.insertTrack(ctx, artist, track, stats)
		}
		if err != nil {
			return fmt.Errorf("track %d: %w", track.ID, err)
		}
	}

	gone := make([]*domain.Track, 0, len(pending))
	for _, t := range pending {
		if !t.IsDeleted() {
			gone = append(gone, t)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].ID < gone[j].ID })

	for _, old := range gone {
		if err := s.deleteTrack(ctx, artist, old, stats); err != nil {
			return fmt.Errorf("track %d: %w", old.ID, err)
		}
	}

	return nil
}

func (s *SyncService) insertTrack(ctx context.Context, artist *domain.Artist, remote *domain.Track, stats *domain.SyncStats) error {
	track := *remote
	track.LastModified = domain.NormalizeTime(remote.LastModified)
	track.Deleted = nil
	track.FilePath = nil

	if track.HasTranscodings() {
		path, err := s.download(ctx, artist, &track, stats)
		if err != nil {
			return err
		}
		track.FilePath = path
	}

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		return s.tracks.Insert(ctx, &track)
	})
	if err != nil {
		return fmt.Errorf("insert track: %w", err)
	}
	stats.TracksNew++

	s.logger.Info("track created", "artist_id", artist.ID, "track_id", track.ID, "downloaded", track.FilePath != nil)

	if err := s.publisher.PublishTrack(ctx, domain.EventCreated, nil, artist, &track); err != nil {
		return fmt.Errorf("publish track created: %w", err)
	}
	return nil
}

// updateTrack downloads again when the track was never downloaded or its
// duration changed, and writes the row when it was soft-deleted, downloaded,
// or modified upstream.
func (s *SyncService) updateTrack(ctx context.Context, artist *domain.Artist, old, remote *domain.Track, stats *domain.SyncStats) error {
	var path *string
	if needsDownload(old, remote) {
		var err error
		if path, err = s.download(ctx, artist, remote, stats); err != nil {
			return err
		}
	}

	modified := !old.LastModified.Equal(domain.NormalizeTime(remote.LastModified))
	if !old.IsDeleted() && path == nil && !modified {
		return nil
	}

	track := *old
	changes := track.ApplyRemote(remote)
	if track.Deleted != nil {
		changes = append(changes, domain.DeletedChange(*track.Deleted))
		track.Deleted = nil
	}
	if path != nil && (track.FilePath == nil || *track.FilePath != *path) {
		changes = append(changes, domain.FilePathChange(track.FilePath, *path))
		track.FilePath = path
	}

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		return s.tracks.Update(ctx, &track)
	})
	if err != nil {
		return fmt.Errorf("update track: %w", err)
	}

	if len(changes) == 0 {
		return nil
	}
	stats.TracksUpdated++

	s.logger.Info("track updated", "artist_id", artist.ID, "track_id", track.ID, "changes", len(changes))

	if err := s.publisher.PublishTrack(ctx, domain.EventUpdated, changes, artist, &track); err != nil {
		return fmt.Errorf("publish track updated: %w", err)
	}
	return nil
}

// deleteTrack soft-deletes a track missing from the artist's list. Absence
// from the owner's list is taken as final; there is no probe.
func (s *SyncService) deleteTrack(ctx context.Context, artist *domain.Artist, old *domain.Track, stats *domain.SyncStats) error {
	track := *old
	deleted := s.now()
	track.Deleted = &deleted

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		return s.tracks.Update(ctx, &track)
	})
	if err != nil {
		return fmt.Errorf("delete track: %w", err)
	}
	stats.TracksDeleted++

	s.logger.Info("track deleted", "artist_id", artist.ID, "track_id", track.ID)

	if err := s.publisher.PublishTrack(ctx, domain.EventDeleted, nil, artist, &track); err != nil {
		return fmt.Errorf("publish track deleted: %w", err)
	}
	return nil
}
