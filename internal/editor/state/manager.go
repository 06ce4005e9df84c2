// Package state owns the persisted element records and their linear undo
// history. A Manager is constructed explicitly and handed to whatever needs
// it; there is no package-level instance.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/freeform/internal/store"
)

// Durable keys.
const (
	KeyElements    = "elements"
	KeyHistory     = "history"
	KeyCurrentPage = "currentPage"
)

const (
	DefaultHistoryLimit = 50
	DefaultPage         = "default"
)

// ErrInvalidState is returned when a record cannot be saved.
var ErrInvalidState = errors.New("state: invalid element state")

// EventKind says what changed.
type EventKind string

const (
	EventSaved    EventKind = "saved"
	EventDeleted  EventKind = "deleted"
	EventUndone   EventKind = "undone"
	EventRedone   EventKind = "redone"
	EventCleared  EventKind = "cleared"
	EventReloaded EventKind = "reloaded"
	EventPage     EventKind = "page"
)

// Event is delivered to listeners after every change. States is a snapshot
// of every record the Manager holds.
type Event struct {
	Kind      EventKind
	ElementID string
	States    map[string]ElementState
}

// Listener observes a Manager.
type Listener interface {
	StateChanged(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) StateChanged(ev Event) { f(ev) }

// Step describes what an undo or redo did. State is the value the element
// now has, or nil when the step removed it.
type Step struct {
	ElementID string        `json:"elementId"`
	Action    Action        `json:"action"`
	State     *ElementState `json:"state"`
}

type historyDocument struct {
	History []HistoryEntry `json:"history"`
	Index   int            `json:"index"`
}

// Manager is the single writer of element records and history.
type Manager struct {
	mu          sync.Mutex
	store       store.Store
	log         *zap.Logger
	limit       int
	now         func() time.Time
	breakpoints Breakpoints

	states  map[string]ElementState
	history []HistoryEntry
	index   int
	page    string

	listeners map[int]Listener
	nextSub   int

	reloads singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.log = logger.Named("state") }
}

// WithHistoryLimit bounds the history; the oldest entries are dropped past it.
func WithHistoryLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.limit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithBreakpoints(b Breakpoints) Option {
	return func(m *Manager) { m.breakpoints = b }
}

// New creates an empty Manager writing through to s. Call Load to read what
// s already holds.
func New(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:       s,
		log:         zap.NewNop(),
		limit:       DefaultHistoryLimit,
		now:         time.Now,
		breakpoints: DefaultBreakpoints,
		states:      make(map[string]ElementState),
		index:       -1,
		page:        DefaultPage,
		listeners:   make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers l and returns a function that removes it.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// notifyLocked snapshots the state for listeners. The returned function
// must be called after the lock is released.
func (m *Manager) notifyLocked(kind EventKind, id string) func() {
	if len(m.listeners) == 0 {
		return func() {}
	}
	ids := make([]int, 0, len(m.listeners))
	for k := range m.listeners {
		ids = append(ids, k)
	}
	sort.Ints(ids)
	ls := make([]Listener, len(ids))
	for i, k := range ids {
		ls[i] = m.listeners[k]
	}
	ev := Event{Kind: kind, ElementID: id, States: m.snapshotLocked()}
	return func() {
		for _, l := range ls {
			l.StateChanged(ev)
		}
	}
}

func (m *Manager) snapshotLocked() map[string]ElementState {
	out := make(map[string]ElementState, len(m.states))
	for id, st := range m.states {
		out[id] = st.Clone()
	}
	return out
}

// persistLocked writes the three durable keys in one store call. A failure
// is logged; the in-memory change stands.
func (m *Manager) persistLocked(ctx context.Context) {
	entries, err := m.encodeLocked()
	if err == nil {
		err = m.store.Set(ctx, entries...)
	}
	if err != nil {
		m.log.Warn("Failed to persist element states, change will not survive reload",
			zap.Int("states", len(m.states)), zap.Error(err))
	}
}

func (m *Manager) encodeLocked() ([]store.Entry, error) {
	elements, err := json.Marshal(m.states)
	if err != nil {
		return nil, fmt.Errorf("failed to encode elements: %w", err)
	}
	history, err := json.Marshal(historyDocument{History: m.history, Index: m.index})
	if err != nil {
		return nil, fmt.Errorf("failed to encode history: %w", err)
	}
	page, err := json.Marshal(m.page)
	if err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	return []store.Entry{
		{Key: KeyElements, Value: elements},
		{Key: KeyHistory, Value: history},
		{Key: KeyCurrentPage, Value: page},
	}, nil
}

func (m *Manager) pushLocked(e HistoryEntry) {
	m.history = append(m.history[:m.index+1], e)
	if over := len(m.history) - m.limit; over > 0 {
		m.history = append([]HistoryEntry(nil), m.history[over:]...)
	}
	m.index = len(m.history) - 1
}

// SaveState upserts st by id, stamps UpdatedAt and writes through. With
// addToHistory it also pushes an entry whose previous state is the replaced
// record, or nil for a first write.
func (m *Manager) SaveState(ctx context.Context, st ElementState, addToHistory bool) error {
	if st.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidState)
	}
	st = st.Clone()

	m.mu.Lock()
	now := m.now().UnixMilli()
	if st.PageID == "" {
		st.PageID = m.page
	}
	var prev *ElementState
	if old, ok := m.states[st.ID]; ok {
		prev = ptr(old)
		if st.CreatedAt == 0 {
			st.CreatedAt = old.CreatedAt
		}
	}
	if st.CreatedAt == 0 {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	m.states[st.ID] = st

	if addToHistory {
		m.pushLocked(HistoryEntry{
			Timestamp:     now,
			ElementID:     st.ID,
			PreviousState: prev,
			NewState:      ptr(st),
			Action:        actionFor(prev, st),
		})
	}
	m.persistLocked(ctx)
	notify := m.notifyLocked(EventSaved, st.ID)
	m.mu.Unlock()

	notify()
	return nil
}

// DeleteState removes the record with id, recording a delete entry that
// carries the removed value. It reports whether a record existed.
func (m *Manager) DeleteState(ctx context.Context, id string) bool {
	m.mu.Lock()
	old, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.pushLocked(HistoryEntry{
		Timestamp:     m.now().UnixMilli(),
		ElementID:     id,
		PreviousState: ptr(old),
		Action:        ActionDelete,
	})
	delete(m.states, id)
	m.persistLocked(ctx)
	notify := m.notifyLocked(EventDeleted, id)
	m.mu.Unlock()

	notify()
	return true
}

// Undo reverts the entry at the history index and moves the index back.
func (m *Manager) Undo(ctx context.Context) (Step, bool) {
	m.mu.Lock()
	if m.index < 0 || m.index >= len(m.history) {
		m.mu.Unlock()
		return Step{}, false
	}
	e := m.history[m.index]
	step := Step{ElementID: e.ElementID, Action: e.Action}
	switch {
	case e.Action == ActionCreate || e.PreviousState == nil:
		delete(m.states, e.ElementID)
	default:
		restored := e.PreviousState.Clone()
		m.states[e.ElementID] = restored
		step.State = ptr(restored)
	}
	m.index--
	m.persistLocked(ctx)
	notify := m.notifyLocked(EventUndone, e.ElementID)
	m.mu.Unlock()

	notify()
	return step, true
}

// Redo reapplies the entry after the history index and moves the index
// forward. It is a no-op at the end of history.
func (m *Manager) Redo(ctx context.Context) (Step, bool) {
	m.mu.Lock()
	if m.index+1 >= len(m.history) {
		m.mu.Unlock()
		return Step{}, false
	}
	m.index++
	e := m.history[m.index]
	step := Step{ElementID: e.ElementID, Action: e.Action}
	switch {
	case e.Action == ActionDelete || e.NewState == nil:
		delete(m.states, e.ElementID)
	default:
		applied := e.NewState.Clone()
		m.states[e.ElementID] = applied
		step.State = ptr(applied)
	}
	m.persistLocked(ctx)
	notify := m.notifyLocked(EventRedone, e.ElementID)
	m.mu.Unlock()

	notify()
	return step, true
}

func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index >= 0
}

func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index < len(m.history)-1
}

// History returns a copy of the entries and the current index.
func (m *Manager) History() ([]HistoryEntry, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out, m.index
}

// ClearHistory drops every entry. Records are kept.
func (m *Manager) ClearHistory(ctx context.Context) {
	m.mu.Lock()
	m.history = nil
	m.index = -1
	m.persistLocked(ctx)
	notify := m.notifyLocked(EventCleared, "")
	m.mu.Unlock()
	notify()
}

func (m *Manager) GetState(id string) (ElementState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return ElementState{}, false
	}
	return st.Clone(), true
}

// GetPageStates returns the records of the current page, oldest first.
func (m *Manager) GetPageStates() []ElementState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageStatesLocked(m.page)
}

// StatesFor returns the records of page, oldest first.
func (m *Manager) StatesFor(page string) []ElementState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageStatesLocked(page)
}

func (m *Manager) pageStatesLocked(page string) []ElementState {
	var out []ElementState
	for _, st := range m.states {
		if st.PageID == page {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetStateBySelector finds the current page's record for sel.
func (m *Manager) GetStateBySelector(sel string) (ElementState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.pageStatesLocked(m.page) {
		if st.Selector == sel {
			return st, true
		}
	}
	return ElementState{}, false
}

func (m *Manager) Page() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page
}

// SetPage scopes page-level operations to page.
func (m *Manager) SetPage(ctx context.Context, page string) {
	if page == "" {
		page = DefaultPage
	}
	m.mu.Lock()
	if m.page == page {
		m.mu.Unlock()
		return
	}
	m.page = page
	m.persistLocked(ctx)
	notify := m.notifyLocked(EventPage, "")
	m.mu.Unlock()
	notify()
}

// ClearPageStates removes every record of the current page without
// recording history. It returns the number removed.
func (m *Manager) ClearPageStates(ctx context.Context) int {
	m.mu.Lock()
	n := 0
	for id, st := range m.states {
		if st.PageID == m.page {
			delete(m.states, id)
			n++
		}
	}
	m.persistLocked(ctx)
	notify := m.notifyLocked(EventCleared, "")
	m.mu.Unlock()
	notify()
	return n
}

// Load replaces the in-memory records, history and page with what the store
// holds. Missing keys leave the defaults in place.
func (m *Manager) Load(ctx context.Context) error {
	return m.load(ctx, true)
}

// Reload replaces records and history with the store's contents and notifies
// listeners. Concurrent calls share one read.
func (m *Manager) Reload(ctx context.Context) error {
	_, err, _ := m.reloads.Do("reload", func() (any, error) {
		if err := m.load(ctx, false); err != nil {
			return nil, err
		}
		m.mu.Lock()
		notify := m.notifyLocked(EventReloaded, "")
		m.mu.Unlock()
		notify()
		return nil, nil
	})
	return err
}

func (m *Manager) load(ctx context.Context, withPage bool) error {
	states := make(map[string]ElementState)
	if err := m.read(ctx, KeyElements, &states); err != nil {
		return err
	}
	doc := historyDocument{Index: -1}
	if err := m.read(ctx, KeyHistory, &doc); err != nil {
		return err
	}
	if doc.Index >= len(doc.History) || doc.Index < -1 {
		m.log.Warn("Stored history index out of range, clamping",
			zap.Int("index", doc.Index), zap.Int("length", len(doc.History)))
		doc.Index = len(doc.History) - 1
	}
	var page string
	if withPage {
		if err := m.read(ctx, KeyCurrentPage, &page); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if states == nil {
		states = make(map[string]ElementState)
	}
	m.states = states
	m.history = doc.History
	m.index = doc.Index
	if page != "" {
		m.page = page
	}
	m.log.Debug("Loaded element states", zap.Int("states", len(states)), zap.Int("history", len(doc.History)))
	return nil
}

func (m *Manager) read(ctx context.Context, key string, v any) error {
	data, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return nil
}

// Watch reloads the Manager whenever w reports a change made by another
// writer. It returns once the watch is established; the reload loop runs
// until ctx is done.
func (m *Manager) Watch(ctx context.Context, w store.Watcher) error {
	changes, err := w.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch store: %w", err)
	}
	go func() {
		for c := range changes {
			if !c.Affects(KeyElements) && !c.Affects(KeyHistory) {
				continue
			}
			if err := m.Reload(ctx); err != nil && ctx.Err() == nil {
				m.log.Warn("Failed to reload after external change", zap.String("key", c.Key), zap.Error(err))
			}
		}
	}()
	return nil
}
