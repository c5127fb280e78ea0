package publisher

import (
	"time"

	"sc_archive/internal/domain"
)

// Exchanges declared by both the archiver and the watcher.
const (
	ExchangeArtists       = "artists"
	ExchangeTracks        = "tracks"
	ExchangeErrors        = "errors"
	ExchangeTrackDownload = "track_download"
)

var Exchanges = []string{ExchangeErrors, ExchangeTracks, ExchangeArtists, ExchangeTrackDownload}

// ArtistMessage is published on the artists exchange.
type ArtistMessage struct {
	Event   domain.EventType `json:"event"`
	Changes domain.Changes   `json:"changes"`
	Artist  ArtistPayload    `json:"artist"`
}

// TrackMessage is published on the tracks exchange.
type TrackMessage struct {
	Event   domain.EventType `json:"event"`
	Changes domain.Changes   `json:"changes"`
	Artist  ArtistPayload    `json:"artist"`
	Track   TrackPayload     `json:"track"`
}

// ArtistPayload is the row as consumers see it; times are Unix seconds.
type ArtistPayload struct {
	ID           int64   `json:"id"`
	AvatarURL    *string `json:"avatar_url"`
	LastModified int64   `json:"last_modified"`
	PermalinkURL string  `json:"permalink_url"`
	Username     string  `json:"username"`
	Deleted      *int64  `json:"deleted"`
	Tracking     bool    `json:"tracking"`
}

type TrackPayload struct {
	ID           int64   `json:"id"`
	UserID       int64   `json:"user_id"`
	ArtworkURL   *string `json:"artwork_url"`
	Description  *string `json:"description"`
	FullDuration int64   `json:"full_duration"`
	LastModified int64   `json:"last_modified"`
	PermalinkURL string  `json:"permalink_url"`
	Title        string  `json:"title"`
	Downloadable bool    `json:"downloadable"`
	PurchaseURL  *string `json:"purchase_url"`
	Deleted      *int64  `json:"deleted"`
	FilePath     *string `json:"file_path"`
}

func NewArtistPayload(a *domain.Artist) ArtistPayload {
	return ArtistPayload{
		ID:           a.ID,
		AvatarURL:    a.AvatarURL,
		LastModified: a.LastModified.Unix(),
		PermalinkURL: a.PermalinkURL,
		Username:     a.Username,
		Deleted:      unixPtr(a.Deleted),
		Tracking:     a.Tracking,
	}
}

func NewTrackPayload(t *domain.Track) TrackPayload {
	return TrackPayload{
		ID:           t.ID,
		UserID:       t.UserID,
		ArtworkURL:   t.ArtworkURL,
		Description:  t.Description,
		FullDuration: t.FullDuration,
		LastModified: t.LastModified.Unix(),
		PermalinkURL: t.PermalinkURL,
		Title:        t.Title,
		Downloadable: t.Downloadable,
		PurchaseURL:  t.PurchaseURL,
		Deleted:      unixPtr(t.Deleted),
		FilePath:     t.FilePath,
	}
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}
