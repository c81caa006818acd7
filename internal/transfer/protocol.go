package transfer

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"clip-mixer/internal/catalog"

	"github.com/google/uuid"
)

var (
	// ErrUnknownKind is returned for an unrecognised source or target name.
	ErrUnknownKind = errors.New("unknown drag classification")

	// ErrInvalidSource is returned by DragStart for a source without an id.
	ErrInvalidSource = errors.New("drag source must have a kind and an id")
)

// Session is the part of the session store the protocol mutates.
// *session.Store satisfies it.
type Session interface {
	Order() []string
	IsMember(id string) bool
	Add(id string, hint catalog.Clip, insertIndex *int) (bool, error)
	Remove(id string) (bool, error)
	Reorder(ids []string) error
}

// Protocol turns drag-start / drag-end notifications into session
// mutations. At most one drag is in flight; a new DragStart supersedes it.
type Protocol struct {
	session Session
	log     *slog.Logger

	mu      sync.Mutex
	current *State
}

// NewProtocol returns an idle Protocol.
func NewProtocol(s Session, log *slog.Logger) *Protocol {
	return &Protocol{session: s, log: log}
}

// DragStart moves to Dragging(src) and returns the token the matching
// DragEnd must carry.
func (p *Protocol) DragStart(src Source) (Token, error) {
	if src.ID == "" {
		return "", ErrInvalidSource
	}
	switch src.Kind {
	case LibraryItem, SessionItem:
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidSource, src.Kind)
	}

	tok := Token(uuid.NewString())
	p.mu.Lock()
	if p.current != nil {
		p.log.Debug("drag superseded", slog.String("token", string(p.current.Token)))
	}
	p.current = &State{Dragging: true, Source: src, Token: tok}
	p.mu.Unlock()

	p.log.Debug("drag started", slog.String("token", string(tok)),
		slog.String("kind", src.Kind.String()), slog.String("clip_id", src.ID))
	return tok, nil
}

// DragEnd resolves the drop of the drag identified by tok onto target and
// applies the resulting mutation. The protocol returns to Idle whatever the
// outcome. A stale or unknown token yields ActionNone.
func (p *Protocol) DragEnd(tok Token, target Target) (Action, error) {
	p.mu.Lock()
	cur := p.current
	if cur == nil || cur.Token != tok {
		p.mu.Unlock()
		p.log.Debug("drag end ignored", slog.String("token", string(tok)))
		return ActionNone, nil
	}
	p.current = nil
	p.mu.Unlock()

	action, err := p.dispatch(cur.Source, target)
	if err != nil {
		p.log.Warn("drag end failed", slog.String("clip_id", cur.Source.ID),
			slog.String("action", action.String()), slog.String("error", err.Error()))
		return action, err
	}
	p.log.Info("drag end", slog.String("clip_id", cur.Source.ID),
		slog.String("target", target.Kind.String()), slog.String("action", action.String()))
	return action, nil
}

// Cancel abandons the current drag, if any.
func (p *Protocol) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
}

// State returns the current protocol state.
func (p *Protocol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return State{}
	}
	return *p.current
}

func (p *Protocol) dispatch(src Source, target Target) (Action, error) {
	switch src.Kind {
	case LibraryItem:
		return p.dropLibraryItem(src, target)
	case SessionItem:
		return p.dropSessionItem(src, target)
	default:
		return ActionNone, nil
	}
}

func (p *Protocol) dropLibraryItem(src Source, target Target) (Action, error) {
	switch target.Kind {
	case SessionDropZone, SessionItemTarget:
		if p.session.IsMember(src.ID) {
			return ActionNone, nil
		}
		var index *int
		if target.Kind == SessionItemTarget {
			if i := slices.Index(p.session.Order(), target.ID); i >= 0 {
				index = &i
			}
		}
		added, err := p.session.Add(src.ID, src.Clip, index)
		if err != nil || !added {
			return ActionNone, err
		}
		return ActionAdd, nil
	case LibraryDropZone:
		return ActionNone, nil
	default:
		return ActionNone, nil
	}
}

func (p *Protocol) dropSessionItem(src Source, target Target) (Action, error) {
	switch target.Kind {
	case LibraryDropZone:
		removed, err := p.session.Remove(src.ID)
		if err != nil || !removed {
			return ActionNone, err
		}
		return ActionRemove, nil
	case SessionItemTarget:
		order := p.session.Order()
		from := slices.Index(order, src.ID)
		to := slices.Index(order, target.ID)
		if from < 0 || to < 0 || from == to {
			return ActionNone, nil
		}
		if err := p.session.Reorder(moveItem(order, from, to)); err != nil {
			return ActionNone, err
		}
		return ActionReorder, nil
	case SessionDropZone:
		return ActionNone, nil
	default:
		return ActionNone, nil
	}
}

// moveItem returns a copy of order with the element at from moved to to.
func moveItem(order []string, from, to int) []string {
	out := slices.Clone(order)
	item := out[from]
	out = slices.Delete(out, from, from+1)
	return slices.Insert(out, to, item)
}
