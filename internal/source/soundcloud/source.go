package soundcloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sc_archive/internal/config"
	"sc_archive/internal/domain"
)

// probeTrackID is a public track used to check that a client id is accepted.
const probeTrackID = 1032303631

// Config holds SoundCloud source configuration.
type Config struct {
	BaseURL        string
	PageLimit      int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// CredentialsProvider returns the credentials to use for the next request.
type CredentialsProvider interface {
	Credentials() config.Credentials
}

// Source reads followings and tracks from the SoundCloud API v2.
type Source struct {
	httpClient     *http.Client
	baseURL        string
	pageLimit      int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	creds          CredentialsProvider
	logger         *slog.Logger
}

// New creates a new SoundCloud source.
func New(cfg Config, creds CredentialsProvider, logger *slog.Logger) *Source {
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		pageLimit:      cfg.PageLimit,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		creds:          creds,
		logger:         logger.With("source", "soundcloud"),
	}
}

// ValidateSession checks the client id and the auth token separately so the
// caller can tell which one needs replacing.
func (s *Source) ValidateSession(ctx context.Context) error {
	status, err := s.status(ctx, fmt.Sprintf("/tracks/%d", probeTrackID), false)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return &domain.SessionError{Credential: "client id"}
	}

	status, err = s.status(ctx, "/me", true)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &domain.SessionError{Credential: "auth token"}
	}
	return nil
}

// Me returns the id of the authenticated account.
func (s *Source) Me(ctx context.Context) (int64, error) {
	var user User
	if err := s.getJSON(ctx, s.endpoint("/me", nil), &user); err != nil {
		return 0, fmt.Errorf("get me: %w", err)
	}
	return user.ID, nil
}

// Followings returns every artist followed by userID.
func (s *Source) Followings(ctx context.Context, userID int64) ([]domain.Artist, error) {
	users, err := fetchAll[User](ctx, s, fmt.Sprintf("/users/%d/followings", userID))
	if err != nil {
		return nil, fmt.Errorf("get followings: %w", err)
	}

	// A record that cannot be read fails the whole list; leaving it out would
	// make the artist look unfollowed.
	artists := make([]domain.Artist, 0, len(users))
	for _, u := range users {
		artist, err := toArtist(u)
		if err != nil {
			return nil, &domain.UpstreamError{Err: fmt.Errorf("user %d: %w", u.ID, err)}
		}
		artists = append(artists, artist)
	}
	return artists, nil
}

// Tracks returns every track uploaded by userID.
func (s *Source) Tracks(ctx context.Context, userID int64) ([]domain.Track, error) {
	items, err := fetchAll[Track](ctx, s, fmt.Sprintf("/users/%d/tracks", userID))
	if err != nil {
		return nil, fmt.Errorf("get tracks: %w", err)
	}

	tracks := make([]domain.Track, 0, len(items))
	for _, t := range items {
		track, err := toTrack(t)
		if err != nil {
			return nil, &domain.UpstreamError{Err: fmt.Errorf("track %d: %w", t.ID, err)}
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// GetUser looks up one user. It returns nil, nil when the user does not exist.
func (s *Source) GetUser(ctx context.Context, id int64) (*domain.Artist, error) {
	var user User
	err := s.getJSON(ctx, s.endpoint(fmt.Sprintf("/users/%d", id), nil), &user)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}

	artist, err := toArtist(user)
	if err != nil {
		return nil, &domain.UpstreamError{Err: fmt.Errorf("user %d: %w", id, err)}
	}
	return &artist, nil
}

func fetchAll[T any](ctx context.Context, s *Source, path string) ([]T, error) {
	var all []T
	next := s.endpoint(path, url.Values{"limit": {strconv.Itoa(s.pageLimit)}})

	for next != "" {
		var page Collection[T]
		if err := s.getJSON(ctx, next, &page); err != nil {
			return all, err
		}
		all = append(all, page.Collection...)

		s.logger.Debug("fetched page", "path", path, "items", len(page.Collection), "total", len(all))

		next = ""
		if page.NextHref != "" {
			next = s.withClientID(page.NextHref)
		}
	}
	return all, nil
}

func (s *Source) endpoint(path string, query url.Values) string {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return s.withClientID(u)
}

func (s *Source) withClientID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("client_id", s.creds.Credentials().ClientID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Source) getJSON(ctx context.Context, url string, out any) error {
	var err error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.doRequest(ctx, url, out)
		if err == nil || !retryable(err) {
			return err
		}

		if attempt == s.maxAttempts {
			break
		}

		backoff := s.calculateBackoff(attempt)
		s.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return err
}

func (s *Source) doRequest(ctx context.Context, url string, out any) error {
	req, err := s.newRequest(ctx, url, true)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.UpstreamError{Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return &domain.UpstreamError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %d", resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.UpstreamError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// status performs a GET and returns the bare status code.
func (s *Source) status(ctx context.Context, path string, auth bool) (int, error) {
	req, err := s.newRequest(ctx, s.endpoint(path, nil), auth)
	if err != nil {
		return 0, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &domain.UpstreamError{Err: fmt.Errorf("execute request: %w", err)}
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *Source) newRequest(ctx context.Context, url string, auth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "sc-archive/1.0")
	if token := s.creds.Credentials().AuthToken; auth && token != "" {
		req.Header.Set("Authorization", "OAuth "+token)
	}
	return req, nil
}

// retryable reports whether another attempt may succeed: transport errors,
// rate limiting and server errors.
func retryable(err error) bool {
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		return false
	}
	return upstream.StatusCode == 0 ||
		upstream.StatusCode == http.StatusTooManyRequests ||
		upstream.StatusCode >= http.StatusInternalServerError
}

func (s *Source) calculateBackoff(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}
	return backoff
}

func toArtist(u User) (domain.Artist, error) {
	lastModified, err := parseTime(u.LastModified)
	if err != nil {
		return domain.Artist{}, err
	}
	return domain.Artist{
		ID:           u.ID,
		Username:     u.Username,
		PermalinkURL: u.PermalinkURL,
		AvatarURL:    u.AvatarURL,
		LastModified: lastModified,
		Tracking:     true,
	}, nil
}

func toTrack(t Track) (domain.Track, error) {
	lastModified, err := parseTime(t.LastModified)
	if err != nil {
		return domain.Track{}, err
	}
	return domain.Track{
		ID:           t.ID,
		UserID:       t.UserID,
		Title:        t.Title,
		Description:  t.Description,
		ArtworkURL:   t.ArtworkURL,
		FullDuration: t.FullDuration,
		PermalinkURL: t.PermalinkURL,
		Downloadable: t.Downloadable,
		PurchaseURL:  t.PurchaseURL,
		LastModified: lastModified,
		Transcodings: len(t.Media.Transcodings),
	}, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last_modified %q: %w", s, err)
	}
	return domain.NormalizeTime(t), nil
}
