package service

import (
	"context"
	"errors"
	"fmt"

	"sc_archive/internal/domain"
)

// needsDownload: never downloaded, or the duration changed. Duration is the
// only content signal the API offers; a changed last_modified alone does not
// trigger a download.
func needsDownload(old, remote *domain.Track) bool {
	if !remote.HasTranscodings() {
		return false
	}
	return old.FilePath == nil || old.FullDuration != remote.FullDuration
}

// download returns the stored path, or nil when the download failed. A failed
// download is not an error for the caller unless the session turned out to be
// invalid or ctx ended.
func (s *SyncService) download(ctx context.Context, artist *domain.Artist, track *domain.Track, stats *domain.SyncStats) (*string, error) {
	res := s.downloader.Download(ctx, artist.ID, track)
	if res.OK() {
		stats.Downloads++
		path := res.Path
		return &path, nil
	}
	stats.DownloadErrors++

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err := s.source.ValidateSession(ctx); err != nil {
		if errors.Is(err, domain.ErrSessionInvalid) {
			s.report(ctx, "Could not download track, session invalid: "+track.PermalinkURL, err,
				"track_id", track.ID)
			return nil, fmt.Errorf("download: %w", err)
		}
		s.logger.Warn("could not validate session after failed download", "error", err)
	}

	s.report(ctx, "Could not download track: "+track.PermalinkURL, res.Err,
		"artist_id", artist.ID,
		"track_id", track.ID,
	)
	return nil, nil
}
