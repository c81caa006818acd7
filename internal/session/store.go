package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"clip-mixer/internal/catalog"
)

var (
	// ErrNotMember is returned when a mutation names a clip outside the session.
	ErrNotMember = errors.New("clip is not a session member")

	// ErrInvalidVolume is returned for volumes outside 0–100.
	ErrInvalidVolume = errors.New("volume must be between 0 and 100")

	// ErrInvalidPermutation is returned when a reorder request is not a
	// permutation of the current members. The session is left unchanged.
	ErrInvalidPermutation = errors.New("reorder is not a permutation of the session")

	// ErrInvalidID is returned for an empty clip id.
	ErrInvalidID = errors.New("clip id must not be empty")
)

// Catalog receives optimistic updates when membership changes.
// *catalog.Cache satisfies it.
type Catalog interface {
	InsertLocal(clip catalog.Clip, currentIDs []string)
	RemoveLocal(id string, currentIDs []string)
}

// Output receives the playback consequences of session changes.
// *Mixer satisfies it.
type Output interface {
	// Sync reapplies every member's effective volume and loop flag.
	Sync(snap Snapshot)
	// ApplyMember pushes the settings of a single member.
	ApplyMember(id string, m Member, master int)
	// Stop pauses a member immediately, without a fade.
	Stop(id string)
	// PauseAll fades out and pauses every playing member of ids.
	PauseAll(ctx context.Context, ids []string) error
}

// state is the full session. members also holds the settings of removed
// clips, retained for a later re-add.
type state struct {
	order   []string
	members map[string]Member
	master  int
}

func defaultState() state {
	return state{members: make(map[string]Member), master: DefaultMasterVolume}
}

func (s state) clone() state {
	return state{
		order:   slices.Clone(s.order),
		members: maps.Clone(s.members),
		master:  s.master,
	}
}

func (s state) record() Record {
	rec := Record{
		OrderedIDs:   slices.Clone(s.order),
		Metadata:     make(map[string]MemberRecord, len(s.members)),
		MasterVolume: &s.master,
	}
	if rec.OrderedIDs == nil {
		rec.OrderedIDs = []string{}
	}
	for id, m := range s.members {
		m := m // per-iteration copy; matches Go 1.22+ loop semantics
		rec.Metadata[id] = MemberRecord{Volume: &m.Volume, Loop: &m.Loop}
	}
	return rec
}

// stateFromRecord validates rec and fills absent fields with defaults.
func stateFromRecord(rec Record) (state, error) {
	st := defaultState()
	if rec.MasterVolume != nil {
		if !validVolume(*rec.MasterVolume) {
			return state{}, fmt.Errorf("%w: master volume %d", ErrMalformedState, *rec.MasterVolume)
		}
		st.master = *rec.MasterVolume
	}
	for id, mr := range rec.Metadata {
		if id == "" {
			return state{}, fmt.Errorf("%w: empty metadata id", ErrMalformedState)
		}
		m := DefaultMember()
		if mr.Volume != nil {
			if !validVolume(*mr.Volume) {
				return state{}, fmt.Errorf("%w: volume %d for %q", ErrMalformedState, *mr.Volume, id)
			}
			m.Volume = *mr.Volume
		}
		if mr.Loop != nil {
			m.Loop = *mr.Loop
		}
		st.members[id] = m
	}
	seen := make(map[string]struct{}, len(rec.OrderedIDs))
	for _, id := range rec.OrderedIDs {
		if id == "" {
			return state{}, fmt.Errorf("%w: empty id in order", ErrMalformedState)
		}
		if _, dup := seen[id]; dup {
			return state{}, fmt.Errorf("%w: duplicate id %q", ErrMalformedState, id)
		}
		seen[id] = struct{}{}
		if _, ok := st.members[id]; !ok {
			st.members[id] = DefaultMember()
		}
		st.order = append(st.order, id)
	}
	return st, nil
}

// Store owns the session. It is the only writer of the ordered membership,
// the member settings and the master volume. Every mutation is computed on
// a copy, saved to Storage, and only then made visible, so a failed save
// leaves the session unchanged.
type Store struct {
	mu      sync.RWMutex
	cur     state
	storage Storage
	catalog Catalog
	out     Output
	log     *slog.Logger
}

// NewStore returns a Store holding an empty session. Call Restore to load
// the persisted one.
func NewStore(storage Storage, cat Catalog, out Output, log *slog.Logger) *Store {
	return &Store{
		cur:     defaultState(),
		storage: storage,
		catalog: cat,
		out:     out,
		log:     log,
	}
}

// Restore loads the persisted session. A missing record yields an empty
// session; a malformed one is discarded, defaults apply, and the returned
// error says why. The Store is usable either way.
func (s *Store) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.storage.Load()
	if err != nil {
		s.cur = defaultState()
		return err
	}
	if !ok {
		s.cur = defaultState()
		return nil
	}
	st, err := stateFromRecord(rec)
	if err != nil {
		s.cur = defaultState()
		return err
	}
	s.cur = st
	s.log.Info("session restored", slog.Int("members", len(st.order)), slog.Int("master_volume", st.master))
	s.out.Sync(s.snapshotLocked())
	return nil
}

// Add makes id a member. It is a no-op (false, nil) when id already is one.
// The clip goes to insertIndex when it is within [0, len], else to the end.
// Settings retained from an earlier removal are restored; otherwise defaults
// apply.
func (s *Store) Add(id string, hint catalog.Clip, insertIndex *int) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.cur.order, id) {
		s.log.Debug("add ignored, already a member", slog.String("clip_id", id))
		return false, nil
	}

	prev := slices.Clone(s.cur.order)
	next := s.cur.clone()
	if _, ok := next.members[id]; !ok {
		next.members[id] = DefaultMember()
	}
	next.order = insertAt(next.order, id, insertIndex)

	if err := s.commitLocked("add", next); err != nil {
		return false, err
	}

	hint.ID = id
	s.catalog.InsertLocal(hint, prev)
	s.out.Sync(s.snapshotLocked())
	return true, nil
}

// Remove drops id from the order and pauses its Playable without a fade.
// Its settings are retained for a later Add. It is a no-op (false, nil)
// when id is not a member.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.cur.order, id) {
		s.log.Debug("remove ignored, not a member", slog.String("clip_id", id))
		return false, nil
	}

	prev := slices.Clone(s.cur.order)
	next := s.cur.clone()
	next.order = without(next.order, id)

	if err := s.commitLocked("remove", next); err != nil {
		return false, err
	}

	s.out.Stop(id)
	s.catalog.RemoveLocal(id, prev)
	s.out.Sync(s.snapshotLocked())
	return true, nil
}

// Reorder replaces the order with ids, which must be a permutation of the
// current members.
func (s *Store) Reorder(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !isPermutation(s.cur.order, ids) {
		s.log.Debug("reorder rejected", slog.Any("current", s.cur.order), slog.Any("requested", ids))
		return ErrInvalidPermutation
	}
	if slices.Equal(s.cur.order, ids) {
		return nil
	}

	next := s.cur.clone()
	next.order = slices.Clone(ids)
	if err := s.commitLocked("reorder", next); err != nil {
		return err
	}
	s.out.Sync(s.snapshotLocked())
	return nil
}

// SetVolume sets the volume of member id and pushes only that member's
// effective volume.
func (s *Store) SetVolume(id string, volume int) error {
	if !validVolume(volume) {
		return ErrInvalidVolume
	}
	return s.updateMember("set_volume", id, func(m *Member) { m.Volume = volume })
}

// SetLoop sets the loop flag of member id and pushes it to that member only.
func (s *Store) SetLoop(id string, loop bool) error {
	return s.updateMember("set_loop", id, func(m *Member) { m.Loop = loop })
}

func (s *Store) updateMember(op, id string, apply func(*Member)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.cur.order, id) {
		return ErrNotMember
	}
	m := s.cur.members[id]
	apply(&m)
	if m == s.cur.members[id] {
		return nil
	}

	next := s.cur.clone()
	next.members[id] = m
	if err := s.commitLocked(op, next); err != nil {
		return err
	}
	s.out.ApplyMember(id, m, s.cur.master)
	return nil
}

// SetMasterVolume sets the master volume and reapplies every member's
// effective volume in one pass.
func (s *Store) SetMasterVolume(volume int) error {
	if !validVolume(volume) {
		return ErrInvalidVolume
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if volume == s.cur.master {
		return nil
	}
	next := s.cur.clone()
	next.master = volume
	if err := s.commitLocked("set_master_volume", next); err != nil {
		return err
	}
	s.out.Sync(s.snapshotLocked())
	return nil
}

// Clear fades out every playing member, then empties the order and the
// retained settings. The master volume is kept. A ctx that is already done
// leaves both the session and playback untouched. If ctx ends while the
// fades run, the session is left as it was; members whose fade already
// finished stay paused and the rest are paused in the background.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cur.order) == 0 && len(s.cur.members) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if err := s.out.PauseAll(ctx, slices.Clone(s.cur.order)); err != nil {
		return fmt.Errorf("pause session members: %w", err)
	}

	next := defaultState()
	next.master = s.cur.master
	return s.commitLocked("clear", next)
}

// Snapshot returns a copy of the session.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Resync pushes the current settings of every member to the Output. Used
// after a catalog resolution created Playables for members.
func (s *Store) Resync() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.out.Sync(s.snapshotLocked())
}

// Order returns the member ids in session order.
func (s *Store) Order() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cur.order)
}

// IsMember reports whether id is in the session.
func (s *Store) IsMember(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.cur.order, id)
}

// Member returns the settings of member id.
func (s *Store) Member(id string) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !slices.Contains(s.cur.order, id) {
		return Member{}, false
	}
	return s.cur.members[id], true
}

// Len returns the number of members.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cur.order)
}

// commitLocked saves next and makes it current. Caller must hold s.mu in
// write mode.
func (s *Store) commitLocked(op string, next state) error {
	if err := s.storage.Save(next.record()); err != nil {
		s.log.Error("persist session failed", slog.String("op", op), slog.String("error", err.Error()))
		return fmt.Errorf("persist session after %s: %w", op, err)
	}
	s.cur = next
	s.log.Debug("session updated", slog.String("op", op), slog.Int("members", len(next.order)))
	return nil
}

// snapshotLocked copies the active part of the session. Caller must hold s.mu.
func (s *Store) snapshotLocked() Snapshot {
	members := make(map[string]Member, len(s.cur.order))
	for _, id := range s.cur.order {
		members[id] = s.cur.members[id]
	}
	return Snapshot{
		Order:   slices.Clone(s.cur.order),
		Members: members,
		Master:  s.cur.master,
	}
}
