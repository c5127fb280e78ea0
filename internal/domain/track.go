package domain

import "time"

type Track struct {
	ID           int64      `db:"id"`
	UserID       int64      `db:"user_id"`
	Title        string     `db:"title"`
	Description  *string    `db:"description"`
	ArtworkURL   *string    `db:"artwork_url"`
	FullDuration int64      `db:"full_duration"`
	LastModified time.Time  `db:"last_modified"`
	PermalinkURL string     `db:"permalink_url"`
	Downloadable bool       `db:"downloadable"`
	PurchaseURL  *string    `db:"purchase_url"`
	FilePath     *string    `db:"file_path"`
	Deleted      *time.Time `db:"deleted"`

	// Transcodings is the number of encodings the API offers for the track.
	// It is not persisted.
	Transcodings int `db:"-"`
}

func (t *Track) IsDeleted() bool {
	return t.Deleted != nil
}

// HasTranscodings reports whether the media fetcher has an encoding to work with.
func (t *Track) HasTranscodings() bool {
	return t.Transcodings > 0
}

var trackFields = []fieldMapping[Track]{
	intField("user_id", func(t *Track) *int64 { return &t.UserID }),
	optStringField("artwork_url", func(t *Track) **string { return &t.ArtworkURL }),
	optStringField("description", func(t *Track) **string { return &t.Description }),
	intField("full_duration", func(t *Track) *int64 { return &t.FullDuration }),
	stringField("permalink_url", func(t *Track) *string { return &t.PermalinkURL }),
	stringField("title", func(t *Track) *string { return &t.Title }),
	boolField("downloadable", func(t *Track) *bool { return &t.Downloadable }),
	optStringField("purchase_url", func(t *Track) **string { return &t.PurchaseURL }),
}

// ApplyRemote copies the remote attributes of src onto t and returns the
// changed fields. LastModified is copied without being reported; FilePath and
// Deleted are local state and left alone.
func (t *Track) ApplyRemote(src *Track) Changes {
	changes := applyFields(trackFields, t, src)
	t.LastModified = NormalizeTime(src.LastModified)
	t.Transcodings = src.Transcodings
	return changes
}
