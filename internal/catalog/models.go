package catalog

import "clip-mixer/internal/audio"

// ClipType classifies a clip. The zero value means untyped.
type ClipType string

const (
	TypeMusic    ClipType = "music"
	TypeAmbiance ClipType = "ambiance"
	TypeEffect   ClipType = "effect"
)

// Valid reports whether t is empty or one of the known types.
func (t ClipType) Valid() bool {
	switch t {
	case "", TypeMusic, TypeAmbiance, TypeEffect:
		return true
	default:
		return false
	}
}

// Clip is the metadata of one audio asset as returned by a catalog fetch.
// Clips are never mutated in place; a refetch supersedes them.
type Clip struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Source   string   `json:"source" yaml:"source"`
	Category string   `json:"category,omitempty" yaml:"category"`
	Type     ClipType `json:"type,omitempty" yaml:"type"`
}

// normalize drops an unknown type tag.
func (c Clip) normalize() Clip {
	if !c.Type.Valid() {
		c.Type = ""
	}
	return c
}

// Entry is a resolved clip together with the Playable bound to its source.
// Playable is nil while the clip's source is unknown.
type Entry struct {
	Clip     Clip
	Playable audio.Playable
}
