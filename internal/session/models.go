package session

import "clip-mixer/internal/catalog"

const (
	// DefaultVolume is the volume of a clip added for the first time.
	DefaultVolume = 100

	// DefaultMasterVolume is the master volume of a fresh session.
	DefaultMasterVolume = 100

	// MaxVolume is the upper bound of member and master volumes.
	MaxVolume = 100
)

// Member holds the per-clip settings of a session member.
type Member struct {
	Volume int  `json:"volume"`
	Loop   bool `json:"loop"`
}

// DefaultMember returns the settings of a clip never seen before.
func DefaultMember() Member {
	return Member{Volume: DefaultVolume}
}

// Snapshot is an immutable copy of the session: the ordered member ids,
// the settings of each member, and the master volume.
type Snapshot struct {
	Order   []string
	Members map[string]Member
	Master  int
}

// EffectiveVolume returns the playback volume of member id.
func (s Snapshot) EffectiveVolume(id string) float64 {
	return EffectiveVolume(s.Members[id].Volume, s.Master)
}

// MemberView is one session member joined with its catalog metadata.
type MemberView struct {
	ID              string           `json:"id"`
	Name            string           `json:"name,omitempty"`
	Source          string           `json:"source,omitempty"`
	Category        string           `json:"category,omitempty"`
	Type            catalog.ClipType `json:"type,omitempty"`
	Volume          int              `json:"volume"`
	Loop            bool             `json:"loop"`
	EffectiveVolume float64          `json:"effective_volume"`
	Playing         bool             `json:"playing"`
	Resolved        bool             `json:"resolved"`
}

// View is the session as presented to clients.
type View struct {
	Members      []MemberView `json:"members"`
	MasterVolume int          `json:"master_volume"`
}
