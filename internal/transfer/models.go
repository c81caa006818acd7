package transfer

import (
	"fmt"

	"clip-mixer/internal/catalog"
)

// SourceKind classifies the item being dragged.
type SourceKind int

const (
	// LibraryItem is a clip dragged out of the browsable catalog.
	LibraryItem SourceKind = iota + 1
	// SessionItem is a clip dragged out of the session list.
	SessionItem
)

func (k SourceKind) String() string {
	switch k {
	case LibraryItem:
		return "library-item"
	case SessionItem:
		return "session-item"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// ParseSourceKind parses the wire name of a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch s {
	case "library-item":
		return LibraryItem, nil
	case "session-item":
		return SessionItem, nil
	default:
		return 0, fmt.Errorf("%w: source %q", ErrUnknownKind, s)
	}
}

// TargetKind classifies where an item was dropped.
type TargetKind int

const (
	// LibraryDropZone is the catalog area as a whole.
	LibraryDropZone TargetKind = iota + 1
	// SessionDropZone is the session area as a whole.
	SessionDropZone
	// SessionItemTarget is a specific session member.
	SessionItemTarget
)

func (k TargetKind) String() string {
	switch k {
	case LibraryDropZone:
		return "library-drop-zone"
	case SessionDropZone:
		return "session-drop-zone"
	case SessionItemTarget:
		return "session-item"
	default:
		return fmt.Sprintf("TargetKind(%d)", int(k))
	}
}

// ParseTargetKind parses the wire name of a TargetKind.
func ParseTargetKind(s string) (TargetKind, error) {
	switch s {
	case "library-drop-zone":
		return LibraryDropZone, nil
	case "session-drop-zone":
		return SessionDropZone, nil
	case "session-item":
		return SessionItemTarget, nil
	default:
		return 0, fmt.Errorf("%w: target %q", ErrUnknownKind, s)
	}
}

// Source is the payload of a drag-start. Clip carries the catalog metadata
// of a library item and is used as the add hint.
type Source struct {
	Kind SourceKind
	ID   string
	Clip catalog.Clip
}

// Target is the drop location of a drag-end. ID is set for SessionItemTarget.
type Target struct {
	Kind TargetKind
	ID   string
}

// Action is the session mutation a drop resolved to.
type Action int

const (
	ActionNone Action = iota
	ActionAdd
	ActionRemove
	ActionReorder
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionReorder:
		return "reorder"
	default:
		return "none"
	}
}

// Token identifies one drag from start to end.
type Token string

// State is the protocol state: idle, or dragging a source.
type State struct {
	Dragging bool
	Source   Source
	Token    Token
}
