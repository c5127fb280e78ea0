package soundcloud

// Collection is a paginated SoundCloud API v2 response.
type Collection[T any] struct {
	Collection []T    `json:"collection"`
	NextHref   string `json:"next_href"`
}

type User struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	PermalinkURL string  `json:"permalink_url"`
	AvatarURL    *string `json:"avatar_url"`
	LastModified string  `json:"last_modified"`
}

type Track struct {
	ID           int64   `json:"id"`
	UserID       int64   `json:"user_id"`
	Title        string  `json:"title"`
	Description  *string `json:"description"`
	ArtworkURL   *string `json:"artwork_url"`
	FullDuration int64   `json:"full_duration"`
	PermalinkURL string  `json:"permalink_url"`
	Downloadable bool    `json:"downloadable"`
	PurchaseURL  *string `json:"purchase_url"`
	LastModified string  `json:"last_modified"`
	Media        Media   `json:"media"`
}

type Media struct {
	Transcodings []Transcoding `json:"transcodings"`
}

type Transcoding struct {
	URL     string `json:"url"`
	Preset  string `json:"preset"`
	Snipped bool   `json:"snipped"`
	Format  struct {
		Protocol string `json:"protocol"`
		MimeType string `json:"mime_type"`
	} `json:"format"`
}
