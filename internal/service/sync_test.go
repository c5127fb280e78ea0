package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"sc_archive/internal/domain"
	"sc_archive/internal/downloader"
	"sc_archive/internal/service/mocks"
	"sc_archive/internal/testutil"
)

const accountID int64 = 1

type SyncServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller
	ctx  context.Context

	source     *mocks.MockSource
	artists    *mocks.MockArtistStore
	tracks     *mocks.MockTrackStore
	syncState  *mocks.MockSyncStateStore
	txManager  *mocks.MockTransactionManager
	publisher  *mocks.MockPublisher
	downloader *mocks.MockDownloader

	service *SyncService
	now     time.Time
	t0      time.Time
	t1      time.Time
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ctx = context.Background()

	s.source = mocks.NewMockSource(s.ctrl)
	s.artists = mocks.NewMockArtistStore(s.ctrl)
	s.tracks = mocks.NewMockTrackStore(s.ctrl)
	s.syncState = mocks.NewMockSyncStateStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)
	s.downloader = mocks.NewMockDownloader(s.ctrl)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = NewSyncService(
		s.source,
		s.artists,
		s.tracks,
		s.syncState,
		s.txManager,
		s.publisher,
		s.downloader,
		logger,
	)

	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.t0 = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.t1 = time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	s.service.now = func() time.Time { return s.now }

	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	).AnyTimes()
}

func (s *SyncServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func (s *SyncServiceTestSuite) artist(id int64) domain.Artist {
	return domain.Artist{
		ID:           id,
		Username:     "artist",
		PermalinkURL: "https://soundcloud.com/artist",
		LastModified: s.t0,
		Tracking:     true,
	}
}

func (s *SyncServiceTestSuite) track(id int64) domain.Track {
	return domain.Track{
		ID:           id,
		UserID:       7,
		Title:        "foo",
		FullDuration: 180,
		LastModified: s.t0,
		PermalinkURL: "https://soundcloud.com/artist/foo",
		Transcodings: 2,
	}
}

// expectCycle sets up the session, account and sync state calls every
// successful cycle makes.
func (s *SyncServiceTestSuite) expectCycle(persisted, followings []domain.Artist) {
	s.source.EXPECT().ValidateSession(s.ctx).Return(nil)
	s.source.EXPECT().Me(s.ctx).Return(accountID, nil)
	s.artists.EXPECT().All(s.ctx).Return(persisted, nil)
	s.source.EXPECT().Followings(s.ctx, accountID).Return(followings, nil)
	s.syncState.EXPECT().Get(s.ctx, accountID).Return(&domain.SyncState{AccountID: accountID}, nil)
	s.syncState.EXPECT().Update(s.ctx, gomock.Any()).Return(nil)
}

func (s *SyncServiceTestSuite) expectTracks(artistID int64, persisted, remote []domain.Track) {
	s.tracks.EXPECT().ByArtist(s.ctx, artistID).Return(persisted, nil)
	s.source.EXPECT().Tracks(s.ctx, artistID).Return(remote, nil)
}

func (s *SyncServiceTestSuite) TestSync_NewArtist() {
	remote := s.artist(7)
	s.expectCycle(nil, []domain.Artist{remote})

	var inserted *domain.Artist
	s.artists.EXPECT().Insert(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, a *domain.Artist) error {
			inserted = a
			return nil
		},
	)
	s.publisher.EXPECT().PublishArtist(s.ctx, domain.EventCreated, gomock.Nil(), gomock.Any()).Return(nil)
	s.expectTracks(7, nil, nil)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Require().NotNil(inserted)
	s.True(inserted.Tracking)
	s.Nil(inserted.Deleted)
	s.Equal(1, stats.Artists)
	s.Equal(1, stats.ArtistsNew)
}

func (s *SyncServiceTestSuite) TestSync_UnchangedArtistIsNotWritten() {
	a := s.artist(7)
	s.expectCycle([]domain.Artist{a}, []domain.Artist{a})
	s.expectTracks(7, nil, nil)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(0, stats.ArtistsUpdated)
}

func (s *SyncServiceTestSuite) TestSync_ArtistUpdated() {
	old := s.artist(7)
	remote := s.artist(7)
	remote.Username = "renamed"
	remote.LastModified = s.t1
	s.expectCycle([]domain.Artist{old}, []domain.Artist{remote})

	s.artists.EXPECT().Update(s.ctx, gomock.Any()).Return(nil)

	var changes domain.Changes
	s.publisher.EXPECT().PublishArtist(s.ctx, domain.EventUpdated, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.EventType, c domain.Changes, a *domain.Artist) error {
			changes = c
			s.Equal("renamed", a.Username)
			s.Equal(s.t1, a.LastModified)
			return nil
		},
	)
	s.expectTracks(7, nil, nil)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(domain.Changes{
		{Field: "username", Old: domain.StringValue("artist"), New: domain.StringValue("renamed")},
	}, changes)
	s.Equal(1, stats.ArtistsUpdated)
}

func (s *SyncServiceTestSuite) TestSync_ArtistUndeleted() {
	deleted := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	old := s.artist(7)
	old.Deleted = &deleted
	old.Tracking = false
	s.expectCycle([]domain.Artist{old}, []domain.Artist{s.artist(7)})

	s.artists.EXPECT().Update(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, a *domain.Artist) error {
			s.Nil(a.Deleted)
			s.True(a.Tracking)
			return nil
		},
	)
	s.publisher.EXPECT().PublishArtist(s.ctx, domain.EventUpdated, domain.Changes{
		{Field: "deleted", Old: domain.StringValue("2024-03-04T05:06:07Z"), New: domain.Null()},
	}, gomock.Any()).Return(nil)
	s.expectTracks(7, nil, nil)

	_, err := s.service.Sync(s.ctx)
	s.NoError(err)
}

func (s *SyncServiceTestSuite) TestSync_RefollowedArtistTrackedWithoutEvent() {
	old := s.artist(7)
	old.Tracking = false
	s.expectCycle([]domain.Artist{old}, []domain.Artist{s.artist(7)})

	s.artists.EXPECT().Update(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, a *domain.Artist) error {
			s.True(a.Tracking)
			return nil
		},
	)
	s.expectTracks(7, nil, nil)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(0, stats.ArtistsUpdated)
}

func (s *SyncServiceTestSuite) TestSync_UnfollowedArtistStillExists() {
	old := s.artist(7)
	s.expectCycle([]domain.Artist{old}, nil)

	s.source.EXPECT().GetUser(s.ctx, int64(7)).Return(&old, nil)
	s.artists.EXPECT().Update(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, a *domain.Artist) error {
			s.False(a.Tracking)
			s.Nil(a.Deleted)
			return nil
		},
	)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Unfollowed)
	s.Equal(0, stats.ArtistsDeleted)
}

func (s *SyncServiceTestSuite) TestSync_UnfollowedArtistGone() {
	old := s.artist(7)
	s.expectCycle([]domain.Artist{old}, nil)

	s.source.EXPECT().GetUser(s.ctx, int64(7)).Return(nil, nil)
	s.artists.EXPECT().Update(s.ctx, gomock.Any()).Return(nil)
	s.publisher.EXPECT().PublishArtist(s.ctx, domain.EventDeleted, gomock.Nil(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.EventType, _ domain.Changes, a *domain.Artist) error {
			s.Require().NotNil(a.Deleted)
			s.Equal(s.now, *a.Deleted)
			s.False(a.Tracking)
			return nil
		},
	)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.ArtistsDeleted)
}

func (s *SyncServiceTestSuite) TestSync_UntrackedArtistIsNotProbed() {
	old := s.artist(7)
	old.Tracking = false
	s.expectCycle([]domain.Artist{old}, nil)

	_, err := s.service.Sync(s.ctx)
	s.NoError(err)
}

func (s *SyncServiceTestSuite) TestSync_ProbeErrorLeavesArtistAlone() {
	old := s.artist(7)
	s.expectCycle([]domain.Artist{old}, nil)

	s.source.EXPECT().GetUser(s.ctx, int64(7)).Return(nil, &domain.UpstreamError{StatusCode: 500})
	s.publisher.EXPECT().PublishError(s.ctx, gomock.Any()).Return(nil)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Errors)
	s.Equal(0, stats.ArtistsDeleted)
}

func (s *SyncServiceTestSuite) TestSync_PublishFailureContinuesWithNextArtist() {
	first, second := s.artist(7), s.artist(8)
	s.expectCycle(nil, []domain.Artist{first, second})

	s.artists.EXPECT().Insert(s.ctx, gomock.Any()).Return(nil).Times(2)
	gomock.InOrder(
		s.publisher.EXPECT().PublishArtist(s.ctx, domain.EventCreated, gomock.Nil(), gomock.Any()).
			Return(errors.New("channel closed")),
		s.publisher.EXPECT().PublishArtist(s.ctx, domain.EventCreated, gomock.Nil(), gomock.Any()).
			Return(nil),
	)
	s.publisher.EXPECT().PublishError(s.ctx, gomock.Any()).Return(nil)
	s.expectTracks(8, nil, nil)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(2, stats.ArtistsNew)
	s.Equal(1, stats.Errors)
}

func (s *SyncServiceTestSuite) TestSync_UpstreamErrorAbortsCycle() {
	s.source.EXPECT().ValidateSession(s.ctx).Return(nil)
	s.source.EXPECT().Me(s.ctx).Return(accountID, nil)
	s.artists.EXPECT().All(s.ctx).Return(nil, nil)
	s.source.EXPECT().Followings(s.ctx, accountID).Return(nil, &domain.UpstreamError{StatusCode: 429})

	_, err := s.service.Sync(s.ctx)

	var upstream *domain.UpstreamError
	s.Require().ErrorAs(err, &upstream)
	s.Equal(429, upstream.StatusCode)
}

func (s *SyncServiceTestSuite) TestSync_InvalidSessionAbortsCycle() {
	s.source.EXPECT().ValidateSession(s.ctx).Return(domain.ErrSessionInvalid)

	_, err := s.service.Sync(s.ctx)

	s.ErrorIs(err, domain.ErrSessionInvalid)
}

func (s *SyncServiceTestSuite) TestSync_NewTrackDownloaded() {
	a := s.artist(7)
	s.expectCycle([]domain.Artist{a}, []domain.Artist{a})
	remote := s.track(10)
	s.expectTracks(7, nil, []domain.Track{remote})

	s.downloader.EXPECT().Download(s.ctx, int64(7), gomock.Any()).Return(downloader.Result{Path: "7/10_foo_1704164645.flac"})
	s.tracks.EXPECT().Insert(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, t *domain.Track) error {
			s.Require().NotNil(t.FilePath)
			s.Equal("7/10_foo_1704164645.flac", *t.FilePath)
			return nil
		},
	)
	s.publisher.EXPECT().PublishTrack(s.ctx, domain.EventCreated, gomock.Nil(), gomock.Any(), gomock.Any()).Return(nil)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Tracks)
	s.Equal(1, stats.TracksNew)
	s.Equal(1, stats.Downloads)
}

func (s *SyncServiceTestSuite) TestSync_DurationChangeRedownloads() {
	a := s.artist(7)
	s.expectCycle([]domain.Artist{a}, []domain.Artist{a})

	old := s.track(10)
	old.FilePath = testutil.Ptr("7/10_foo_1704164645.flac")
	remote := s.track(10)
	remote.FullDuration = 185
	remote.LastModified = s.t1
	s.expectTracks(7, []domain.Track{old}, []domain.Track{remote})

	s.downloader.EXPECT().Download(s.ctx, int64(7), gomock.Any()).Return(downloader.Result{Path: "7/10_foo_1706933106.flac"})
	s.tracks.EXPECT().Update(s.ctx, gomock.Any()).Return(nil)

	var changes domain.Changes
	s.publisher.EXPECT().PublishTrack(s.ctx, domain.EventUpdated, gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.EventType, c domain.Changes, _ *domain.Artist, t *domain.Track) error {
			changes = c
			s.Equal("7/10_foo_1706933106.flac", *t.FilePath)
			return nil
		},
	)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(domain.Changes{
		{Field: "full_duration", Old: domain.IntValue(180), New: domain.IntValue(185)},
		{Field: "file_path", Old: domain.StringValue("7/10_foo_1704164645.flac"), New: domain.StringValue("7/10_foo_1706933106.flac")},
	}, changes)
	s.Equal(1, stats.TracksUpdated)
}

func (s *SyncServiceTestSuite) TestSync_ModifiedTrackWithoutDurationChangeNotDownloaded() {
	a := s.artist(7)
	s.expectCycle([]domain.Artist{a}, []domain.Artist{a})

	old := s.track(10)
	old.FilePath = testutil.Ptr("7/10_foo_1704164645.flac")
	remote := s.track(10)
	remote.Title = "bar"
	remote.LastModified = s.t1
	s.expectTracks(7, []domain.Track{old}, []domain.Track{remote})

	s.tracks.EXPECT().Update(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, t *domain.Track) error {
			s.Equal("7/10_foo_1704164645.flac", *t.FilePath)
			return nil
		},
	)
	s.publisher.EXPECT().PublishTrack(s.ctx, domain.EventUpdated, domain.Changes{
		{Field: "title", Old: domain.StringValue("foo"), New: domain.StringValue("bar")},
	}, gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.service.Sync(s.ctx)
	s.NoError(err)
}

func (s *SyncServiceTestSuite) TestSync_TrackWithoutTranscodingsNotDownloaded() {
	a := s.artist(7)
	s.expectCycle([]domain.Artist{a}, []domain.Artist{a})

	old := s.track(10)
	remote := s.track(10)
	remote.Transcodings = 0
	s.expectTracks(7, []domain.Track{old}, []domain.Track{remote})

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(0, stats.Downloads)
	s.Equal(0, stats.TracksUpdated)
}

func (s *SyncServiceTestSuite) TestSync_DownloadFailureKeepsTrackWithoutPath() {
	a := s.artist(7)
	s.expectCycle([]domain.Artist{a}, []domain.Artist{a})
	remote := s.track(10)
	s.expectTracks(7, nil, []domain.Track{remote})

	s.downloader.EXPECT().Download(s.ctx, int64(7), gomock.Any()).Return(downloader.Result{Err: errors.New("scdl exited 1")})
	// second validation after the failed download
	s.source.EXPECT().ValidateSession(s.ctx).Return(nil)
	s.publisher.EXPECT().PublishError(s.ctx, "Could not download track: https://soundcloud.com/artist/foo").Return(nil)
	s.tracks.EXPECT().Insert(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, t *domain.Track) error {
			s.Nil(t.FilePath)
			return nil
		},
	)
	s.publisher.EXPECT().PublishTrack(s.ctx, domain.EventCreated, gomock.Nil(), gomock.Any(), gomock.Any()).Return(nil)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.DownloadErrors)
	s.Equal(1, stats.TracksNew)
}

func (s *SyncServiceTestSuite) TestSync_DownloadFailureKeepsOldPath() {
	a := s.artist(7)
	s.expectCycle([]domain.Artist{a}, []domain.Artist{a})

	old := s.track(10)
	old.FilePath = testutil.Ptr("7/10_foo_1704164645.flac")
	remote := s.track(10)
	remote.FullDuration = 185
	remote.LastModified = s.t1
	s.expectTracks(7, []domain.Track{old}, []domain.Track{remote})

	s.downloader.EXPECT().Download(s.ctx, int64(7), gomock.Any()).Return(downloader.Result{Err: errors.New("scdl exited 1")})
	s.source.EXPECT().ValidateSession(s.ctx).Return(nil)
	s.publisher.EXPECT().PublishError(s.ctx, gomock.Any()).Return(nil)
	s.tracks.EXPECT().Update(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, t *domain.Track) error {
			s.Equal("7/10_foo_1704164645.flac", *t.FilePath)
			return nil
		},
	)
	s.publisher.EXPECT().PublishTrack(s.ctx, domain.EventUpdated, domain.Changes{
		{Field: "full_duration", Old: domain.IntValue(180), New: domain.IntValue(185)},
	}, gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.service.Sync(s.ctx)
	s.NoError(err)
}

func (s *SyncServiceTestSuite) TestSync_DownloadFailureWithInvalidSessionAbortsCycle() {
	a := s.artist(7)
	s.source.EXPECT().ValidateSession(s.ctx).Return(nil)
	s.source.EXPECT().Me(s.ctx).Return(accountID, nil)
	s.artists.EXPECT().All(s.ctx).Return([]domain.Artist{a}, nil)
	s.source.EXPECT().Followings(s.ctx, accountID).Return([]domain.Artist{a}, nil)
	s.expectTracks(7, nil, []domain.Track{s.track(10)})

	s.downloader.EXPECT().Download(s.ctx, int64(7), gomock.Any()).Return(downloader.Result{Err: errors.New("401")})
	s.source.EXPECT().ValidateSession(s.ctx).Return(domain.ErrSessionInvalid)
	s.publisher.EXPECT().PublishError(s.ctx, gomock.Any()).Return(nil)

	_, err := s.service.Sync(s.ctx)

	s.ErrorIs(err, domain.ErrSessionInvalid)
}

func (s *SyncServiceTestSuite) TestSync_TrackUndeleted() {
	a := s.artist(7)
	s.expectCycle([]domain.Artist{a}, []domain.Artist{a})

	deleted := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	old := s.track(10)
	old.FilePath = testutil.Ptr("7/10_foo_1704164645.flac")
	old.Deleted = &deleted
	s.expectTracks(7, []domain.Track{old}, []domain.Track{s.track(10)})

	s.tracks.EXPECT().Update(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, t *domain.Track) error {
			s.Nil(t.Deleted)
			return nil
		},
	)
	s.publisher.EXPECT().PublishTrack(s.ctx, domain.EventUpdated, domain.Changes{
		{Field: "deleted", Old: domain.StringValue("2024-03-04T05:06:07Z"), New: domain.Null()},
	}, gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.service.Sync(s.ctx)
	s.NoError(err)
}

func (s *SyncServiceTestSuite) TestSync_MissingTracksSoftDeleted() {
	a := s.artist(7)
	s.expectCycle([]domain.Artist{a}, []domain.Artist{a})

	gone := s.track(10)
	deleted := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	alreadyGone := s.track(11)
	alreadyGone.Deleted = &deleted
	s.expectTracks(7, []domain.Track{gone, alreadyGone}, nil)

	s.tracks.EXPECT().Update(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, t *domain.Track) error {
			s.Equal(int64(10), t.ID)
			s.Equal(s.now, *t.Deleted)
			return nil
		},
	)
	s.publisher.EXPECT().PublishTrack(s.ctx, domain.EventDeleted, gomock.Nil(), gomock.Any(), gomock.Any()).Return(nil)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.TracksDeleted)
}

func (s *SyncServiceTestSuite) TestSync_TrackStoreFailureSkipsRestOfArtist() {
	a, b := s.artist(7), s.artist(8)
	s.expectCycle([]domain.Artist{a, b}, []domain.Artist{a, b})

	first, second := s.track(10), s.track(11)
	first.Transcodings, second.Transcodings = 0, 0
	s.expectTracks(7, nil, []domain.Track{first, second})
	s.tracks.EXPECT().Insert(s.ctx, gomock.Any()).Return(errors.New("unique violation"))
	s.publisher.EXPECT().PublishError(s.ctx, gomock.Any()).Return(nil)

	s.expectTracks(8, nil, nil)

	stats, err := s.service.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Errors)
	s.Equal(0, stats.TracksNew)
}
