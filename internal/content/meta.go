package content

import "time"

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceDisk    Source = "disk"
	SourceS3      Source = "s3"
)

// Meta describes where a snapshot came from.
type Meta struct {
	Version    string    `json:"version,omitempty"`
	Hash       string    `json:"hash,omitempty"`
	Source     Source    `json:"source,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitzero"`
	VerifiedAt time.Time `json:"verified_at,omitzero"`
	Signed     bool      `json:"signed"`
}
