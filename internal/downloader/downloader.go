package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"sc_archive/internal/config"
	"sc_archive/internal/domain"
)

var (
	ErrNoTranscodings = errors.New("track has no transcodings")
	ErrNoOutput       = errors.New("downloaded file not found")
)

type Config struct {
	Binary   string
	DataPath string
	Timeout  time.Duration
}

type CredentialsProvider interface {
	Credentials() config.Credentials
}

// Result is the outcome of one download. Path is relative to the data path
// and only set on success.
type Result struct {
	Path string
	Err  error
}

func (r Result) OK() bool {
	return r.Err == nil && r.Path != ""
}

// Downloader fetches tracks with scdl into <data path>/<artist id>/.
type Downloader struct {
	binary   string
	dataPath string
	timeout  time.Duration
	creds    CredentialsProvider
	inflight singleflight.Group
	logger   *slog.Logger
}

func New(cfg Config, creds CredentialsProvider, logger *slog.Logger) *Downloader {
	return &Downloader{
		binary:   cfg.Binary,
		dataPath: cfg.DataPath,
		timeout:  cfg.Timeout,
		creds:    creds,
		logger:   logger.With("component", "downloader"),
	}
}

// Download fetches the best available encoding of track. Concurrent calls for
// the same track id share one scdl run, whatever version they ask for.
func (d *Downloader) Download(ctx context.Context, artistID int64, track *domain.Track) Result {
	key := strconv.FormatInt(track.ID, 10)

	v, err, shared := d.inflight.Do(key, func() (any, error) {
		return d.run(ctx, artistID, track)
	})
	if shared {
		d.logger.Debug("joined in-flight download", "track_id", track.ID)
	}
	if err != nil {
		return Result{Err: err}
	}
	return Result{Path: v.(string)}
}

func (d *Downloader) run(ctx context.Context, artistID int64, track *domain.Track) (string, error) {
	if !track.HasTranscodings() {
		return "", ErrNoTranscodings
	}

	artistDir := strconv.FormatInt(artistID, 10)
	dir := filepath.Join(d.dataPath, artistDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artist dir: %w", err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	// Files are named after the id and the last-modified second; a rerun for
	// the same version overwrites the same file.
	timestamp := track.LastModified.Unix()
	creds := d.creds.Credentials()

	cmd := exec.CommandContext(ctx, d.binary,
		"-l", track.PermalinkURL,
		"--flac",
		"--original-art",
		"--path", dir,
		"--name-format", fmt.Sprintf("{id}_{title}_%d", timestamp),
		"--client-id", creds.ClientID,
		"--auth-token", creds.AuthToken,
		"--overwrite",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", d.binary, err, strings.TrimSpace(stderr.String()))
	}

	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%d_*_%d*", track.ID, timestamp)))
	if err != nil {
		return "", fmt.Errorf("find downloaded file: %w", err)
	}
	if len(matches) == 0 {
		return "", ErrNoOutput
	}

	path := filepath.Join(artistDir, filepath.Base(matches[0]))
	d.logger.Info("downloaded track",
		"track_id", track.ID,
		"path", path,
		"duration", time.Since(started),
	)
	return path, nil
}
