package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/freeform/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// tick returns a clock that advances one millisecond per call.
func tick() func() time.Time {
	var mu sync.Mutex
	t := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newManager(t *testing.T, opts ...Option) (*Manager, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	t.Cleanup(func() { s.Close() })
	return New(s, append([]Option{WithClock(tick())}, opts...)...), s
}

func record(id, left string) ElementState {
	return ElementState{
		ID:              id,
		Selector:        "//*[@id='" + id + "']",
		OriginalTagName: "div",
		Position:        Position{X: 10, Y: 20, Unit: Pixels},
		Styles:          Styles{"position": "absolute", "left": left, "top": "20px"},
	}
}

func TestSaveSaveUndoRestoresPreviousValue(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	require.NoError(t, m.SaveState(ctx, record("a", "10px"), true))
	second := record("a", "50px")
	second.Position.X = 50
	require.NoError(t, m.SaveState(ctx, second, true))

	step, ok := m.Undo(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", step.ElementID)
	assert.Equal(t, ActionMove, step.Action)
	require.NotNil(t, step.State)
	assert.Equal(t, "10px", step.State.Styles["left"])

	got, ok := m.GetState("a")
	require.True(t, ok)
	assert.Equal(t, "10px", got.Styles["left"])
}

func TestDeleteThenUndoReinserts(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	require.NoError(t, m.SaveState(ctx, record("b", "30px"), true))
	before, _ := m.GetState("b")

	assert.True(t, m.DeleteState(ctx, "b"))
	assert.Empty(t, m.GetPageStates())

	step, ok := m.Undo(ctx)
	require.True(t, ok)
	assert.Equal(t, ActionDelete, step.Action)

	states := m.GetPageStates()
	require.Len(t, states, 1)
	if diff := cmp.Diff(before, states[0]); diff != "" {
		t.Errorf("restored record mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	m, _ := newManager(t)
	assert.False(t, m.DeleteState(context.Background(), "nope"))
	assert.False(t, m.CanUndo())
}

func TestUndoRedoInverseLaw(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	require.NoError(t, m.SaveState(ctx, record("keep", "1px"), false))
	require.NoError(t, m.SaveState(ctx, record("gone", "2px"), false))
	pre := m.GetPageStates()

	ops := []func() bool{
		func() bool { return m.SaveState(ctx, record("a", "10px"), true) == nil },
		func() bool { return m.SaveState(ctx, record("a", "20px"), true) == nil },
		func() bool { return m.DeleteState(ctx, "gone") },
		func() bool { return m.SaveState(ctx, record("keep", "5px"), true) == nil },
		func() bool { return m.DeleteState(ctx, "a") },
		func() bool { return m.SaveState(ctx, record("a", "99px"), true) == nil },
	}
	n := 0
	for _, op := range ops {
		if op() {
			n++
		}
	}
	post := m.GetPageStates()

	for i := 0; i < n; i++ {
		_, ok := m.Undo(ctx)
		require.True(t, ok, "undo %d", i)
	}
	_, ok := m.Undo(ctx)
	assert.False(t, ok, "nothing left to undo")
	if diff := cmp.Diff(pre, m.GetPageStates()); diff != "" {
		t.Errorf("undo did not restore the initial records (-want +got):\n%s", diff)
	}

	for i := 0; i < n; i++ {
		_, ok := m.Redo(ctx)
		require.True(t, ok, "redo %d", i)
	}
	_, ok = m.Redo(ctx)
	assert.False(t, ok, "redo is a no-op at the end of history")
	if diff := cmp.Diff(post, m.GetPageStates()); diff != "" {
		t.Errorf("redo did not restore the final records (-want +got):\n%s", diff)
	}
}

func TestActionInference(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	st := record("a", "10px")
	require.NoError(t, m.SaveState(ctx, st, true))

	st.Position.X = 40
	require.NoError(t, m.SaveState(ctx, st, true))

	st.Size = &Size{Width: 100, Height: 80, Unit: Pixels}
	require.NoError(t, m.SaveState(ctx, st, true))

	st.Styles["zIndex"] = "5"
	require.NoError(t, m.SaveState(ctx, st, true))

	entries, index := m.History()
	require.Len(t, entries, 4)
	assert.Equal(t, 3, index)
	var actions []Action
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []Action{ActionCreate, ActionMove, ActionResize, ActionStyle}, actions)
	assert.Nil(t, entries[0].PreviousState)
}

func TestSaveStampsTimestamps(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	require.NoError(t, m.SaveState(ctx, record("a", "1px"), true))
	first, _ := m.GetState("a")
	require.NoError(t, m.SaveState(ctx, record("a", "2px"), true))
	second, _ := m.GetState("a")

	assert.Equal(t, first.CreatedAt, second.CreatedAt, "createdAt survives updates")
	assert.Greater(t, second.UpdatedAt, first.UpdatedAt)
	assert.Equal(t, DefaultPage, second.PageID)
}

func TestSaveRejectsMissingID(t *testing.T) {
	m, _ := newManager(t)
	err := m.SaveState(context.Background(), ElementState{}, true)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestHistoryLimitDropsOldest(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, WithHistoryLimit(3))

	for _, left := range []string{"1px", "2px", "3px", "4px", "5px"} {
		require.NoError(t, m.SaveState(ctx, record("a", left), true))
	}
	entries, index := m.History()
	require.Len(t, entries, 3)
	assert.Equal(t, 2, index)
	assert.Equal(t, "3px", entries[0].NewState.Styles["left"])

	for i := 0; i < 3; i++ {
		_, ok := m.Undo(ctx)
		require.True(t, ok)
	}
	assert.False(t, m.CanUndo())
	got, _ := m.GetState("a")
	assert.Equal(t, "2px", got.Styles["left"], "the oldest kept entry restores its previous value")
}

func TestPushAfterUndoTruncatesRedo(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	require.NoError(t, m.SaveState(ctx, record("a", "1px"), true))
	require.NoError(t, m.SaveState(ctx, record("a", "2px"), true))
	m.Undo(ctx)
	assert.True(t, m.CanRedo())

	require.NoError(t, m.SaveState(ctx, record("a", "3px"), true))
	assert.False(t, m.CanRedo())
	entries, index := m.History()
	assert.Len(t, entries, 2)
	assert.Equal(t, 1, index)
}

func TestUndoCreateRemovesRecord(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	require.NoError(t, m.SaveState(ctx, record("a", "1px"), true))

	step, ok := m.Undo(ctx)
	require.True(t, ok)
	assert.Nil(t, step.State)
	_, exists := m.GetState("a")
	assert.False(t, exists)

	step, ok = m.Redo(ctx)
	require.True(t, ok)
	require.NotNil(t, step.State)
	assert.Equal(t, "1px", step.State.Styles["left"])
}

func TestPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	m, s := newManager(t)

	m.SetPage(ctx, "home")
	require.NoError(t, m.SaveState(ctx, record("a", "10px"), true))
	require.NoError(t, m.SaveState(ctx, record("b", "20px"), true))
	m.DeleteState(ctx, "b")

	loaded := New(s)
	require.NoError(t, loaded.Load(ctx))

	assert.Equal(t, "home", loaded.Page())
	if diff := cmp.Diff(m.GetPageStates(), loaded.GetPageStates()); diff != "" {
		t.Errorf("loaded records mismatch (-want +got):\n%s", diff)
	}
	wantHistory, wantIndex := m.History()
	gotHistory, gotIndex := loaded.History()
	assert.Equal(t, wantIndex, gotIndex)
	if diff := cmp.Diff(wantHistory, gotHistory); diff != "" {
		t.Errorf("loaded history mismatch (-want +got):\n%s", diff)
	}

	_, ok := loaded.Undo(ctx)
	require.True(t, ok)
	_, ok = loaded.GetState("b")
	assert.True(t, ok, "history survives a reload")
}

func TestLoadEmptyStore(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.Load(context.Background()))
	assert.Empty(t, m.GetPageStates())
	assert.Equal(t, DefaultPage, m.Page())
	assert.False(t, m.CanUndo())
}

func TestLoadRejectsCorruptData(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Set(ctx, store.Entry{Key: KeyElements, Value: []byte(`[1,2`)}))
	err := New(s).Load(ctx)
	assert.ErrorContains(t, err, `failed to decode "elements"`)
}

type failingStore struct {
	store.Store
}

func (failingStore) Set(context.Context, ...store.Entry) error {
	return errors.New("quota exceeded")
}

func TestStorageFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	m := New(failingStore{store.NewMemory()}, WithLogger(zap.New(core)))

	require.NoError(t, m.SaveState(ctx, record("a", "10px"), true))
	got, ok := m.GetState("a")
	require.True(t, ok)
	assert.Equal(t, "10px", got.Styles["left"])
	assert.True(t, m.CanUndo())

	entries := logs.FilterMessage("Failed to persist element states, change will not survive reload").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "state", entries[0].LoggerName)
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	var events []Event
	unsubscribe := m.Subscribe(ListenerFunc(func(ev Event) { events = append(events, ev) }))

	require.NoError(t, m.SaveState(ctx, record("a", "1px"), true))
	m.Undo(ctx)
	m.Redo(ctx)
	m.DeleteState(ctx, "a")
	unsubscribe()
	unsubscribe()
	require.NoError(t, m.SaveState(ctx, record("b", "1px"), true))

	require.Len(t, events, 4)
	assert.Equal(t, EventSaved, events[0].Kind)
	assert.Equal(t, "a", events[0].ElementID)
	assert.Contains(t, events[0].States, "a")
	assert.Equal(t, EventUndone, events[1].Kind)
	assert.NotContains(t, events[1].States, "a")
	assert.Equal(t, EventRedone, events[2].Kind)
	assert.Equal(t, EventDeleted, events[3].Kind)
}

func TestListenersMayCallBack(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	var canUndo bool
	m.Subscribe(ListenerFunc(func(Event) { canUndo = m.CanUndo() }))
	require.NoError(t, m.SaveState(ctx, record("a", "1px"), true))
	assert.True(t, canUndo)
}

func TestPageScoping(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	require.NoError(t, m.SaveState(ctx, record("a", "1px"), false))
	m.SetPage(ctx, "about")
	require.NoError(t, m.SaveState(ctx, record("b", "1px"), false))

	require.Len(t, m.GetPageStates(), 1)
	assert.Equal(t, "b", m.GetPageStates()[0].ID)
	_, ok := m.GetStateBySelector(record("a", "").Selector)
	assert.False(t, ok, "selector lookup is page scoped")
	got, ok := m.GetStateBySelector(record("b", "").Selector)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)

	assert.Equal(t, 1, m.ClearPageStates(ctx))
	assert.Empty(t, m.GetPageStates())
	assert.Len(t, m.StatesFor(DefaultPage), 1)
}

func TestClearHistory(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	require.NoError(t, m.SaveState(ctx, record("a", "1px"), true))
	m.ClearHistory(ctx)
	assert.False(t, m.CanUndo())
	_, ok := m.GetState("a")
	assert.True(t, ok)
}

func TestWatchReloadsOnExternalChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := store.NewBus()
	tabA, tabB := bus.Open(), bus.Open()
	a := New(tabA, WithClock(tick()))
	b := New(tabB, WithClock(tick()))

	reloaded := make(chan Event, 8)
	b.Subscribe(ListenerFunc(func(ev Event) {
		if ev.Kind == EventReloaded {
			reloaded <- ev
		}
	}))
	require.NoError(t, b.Watch(ctx, tabB))

	require.NoError(t, a.SaveState(ctx, record("a", "10px"), true))

	select {
	case ev := <-reloaded:
		assert.Contains(t, ev.States, "a")
	case <-time.After(5 * time.Second):
		t.Fatal("tab B never reloaded")
	}
	got, ok := b.GetState("a")
	require.True(t, ok)
	assert.Equal(t, "10px", got.Styles["left"])
	assert.True(t, b.CanUndo(), "history is shared through the store")
}
