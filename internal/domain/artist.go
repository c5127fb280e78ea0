package domain

import "time"

type Artist struct {
	ID           int64      `db:"id"`
	Username     string     `db:"username"`
	PermalinkURL string     `db:"permalink_url"`
	AvatarURL    *string    `db:"avatar_url"`
	LastModified time.Time  `db:"last_modified"`
	Deleted      *time.Time `db:"deleted"`
	Tracking     bool       `db:"tracking"`
}

// IsDeleted reports whether the artist is gone upstream.
func (a *Artist) IsDeleted() bool {
	return a.Deleted != nil
}

var artistFields = []fieldMapping[Artist]{
	optStringField("avatar_url", func(a *Artist) **string { return &a.AvatarURL }),
	stringField("permalink_url", func(a *Artist) *string { return &a.PermalinkURL }),
	stringField("username", func(a *Artist) *string { return &a.Username }),
}

// ApplyRemote copies the remote attributes of src onto a and returns the
// changed fields. LastModified is copied without being reported.
func (a *Artist) ApplyRemote(src *Artist) Changes {
	changes := applyFields(artistFields, a, src)
	a.LastModified = NormalizeTime(src.LastModified)
	return changes
}
