package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"sc_archive/internal/domain"
	"sc_archive/internal/publisher"
)

const (
	webhookUsername = "SoundCloud"

	ColorCreated = 0x8eff1c
	ColorUpdated = 0xffbf1c
	ColorDeleted = 0xDC143C
)

// WebhookPayload is the body of a Discord webhook execution.
type WebhookPayload struct {
	Username string  `json:"username"`
	Content  string  `json:"content,omitempty"`
	Embeds   []Embed `json:"embeds"`
}

type Embed struct {
	Type        string     `json:"type"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url,omitempty"`
	Timestamp   string     `json:"timestamp,omitempty"`
	Color       int        `json:"color"`
	Thumbnail   *Thumbnail `json:"thumbnail,omitempty"`
	Author      *Author    `json:"author,omitempty"`
}

type Thumbnail struct {
	URL string `json:"url"`
}

type Author struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// Encode marshals the payload without HTML escaping so change arrows and
// quotes reach Discord as typed.
func (p WebhookPayload) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderArtist builds the webhook for an artist event. Created events are
// not announced.
func RenderArtist(msg publisher.ArtistMessage) (WebhookPayload, bool) {
	embed := artistEmbed(msg.Artist)

	var content string
	switch msg.Event {
	case domain.EventUpdated:
		embed.Color = ColorUpdated
		content = changesBlock(msg.Changes)
	case domain.EventDeleted:
		embed.Color = ColorDeleted
	default:
		return WebhookPayload{}, false
	}

	return WebhookPayload{
		Username: webhookUsername,
		Content:  content,
		Embeds:   []Embed{embed},
	}, true
}

func RenderTrack(msg publisher.TrackMessage) (WebhookPayload, bool) {
	embed := Embed{
		Type:      "rich",
		Title:     msg.Track.Title,
		URL:       msg.Track.PermalinkURL,
		Timestamp: timestamp(msg.Track.LastModified),
		Author:    author(msg.Artist),
	}
	if msg.Track.Description != nil {
		embed.Description = *msg.Track.Description
	}
	if msg.Track.ArtworkURL != nil {
		embed.Thumbnail = &Thumbnail{URL: *msg.Track.ArtworkURL}
	}

	var content string
	if msg.Track.FilePath != nil {
		content = "Path: `" + *msg.Track.FilePath + "`"
	}

	switch msg.Event {
	case domain.EventCreated:
		embed.Color = ColorCreated
	case domain.EventUpdated:
		embed.Color = ColorUpdated
		content = changesBlock(msg.Changes)
	case domain.EventDeleted:
		embed.Color = ColorDeleted
	default:
		return WebhookPayload{}, false
	}

	return WebhookPayload{
		Username: webhookUsername,
		Content:  content,
		Embeds:   []Embed{embed},
	}, true
}

func RenderError(message string) WebhookPayload {
	return WebhookPayload{
		Username: webhookUsername,
		Embeds: []Embed{{
			Type:        "rich",
			Description: message,
			Color:       ColorDeleted,
			Author:      &Author{Name: "Error"},
		}},
	}
}

func artistEmbed(a publisher.ArtistPayload) Embed {
	return Embed{
		Type:      "rich",
		Timestamp: timestamp(a.LastModified),
		Author:    author(a),
	}
}

func author(a publisher.ArtistPayload) *Author {
	au := &Author{Name: a.Username, URL: a.PermalinkURL}
	if a.AvatarURL != nil {
		au.IconURL = *a.AvatarURL
	}
	return au
}

func timestamp(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

// changesBlock renders changes as a code block of "field: old -> new" lines.
func changesBlock(changes domain.Changes) string {
	var b strings.Builder
	b.WriteString("```\n")
	for _, ch := range changes {
		fmt.Fprintf(&b, "%s: %s -> %s\n", ch.Field, escapeTicks(ch.Old.String()), escapeTicks(ch.New.String()))
	}
	b.WriteString("```")
	return b.String()
}

func escapeTicks(s string) string {
	return strings.ReplaceAll(s, "`", "\\`")
}

// WebhookClient posts payloads to Discord.
type WebhookClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebhookClient(timeout time.Duration, logger *slog.Logger) *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Post sends payload to url. An empty url means the event kind is not
// configured and is skipped.
func (c *WebhookClient) Post(ctx context.Context, url string, payload WebhookPayload) error {
	if url == "" {
		c.logger.Debug("no webhook configured, skipping")
		return nil
	}

	body, err := payload.Encode()
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
