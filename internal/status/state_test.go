package status

import (
	"testing"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
	if m.HasMore() {
		t.Error("HasMore should be false when idle")
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Loading},
		{Loading, Loaded},
		{Loading, Idle},
		{Loaded, LoadingMore},
		{Loaded, Idle},
		{LoadingMore, Loaded},
		{LoadingMore, Idle},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Loaded},
		{Idle, LoadingMore},
		{Loading, LoadingMore},
		{LoadingMore, LoadingMore},
	}
	for _, tt := range tests {
		m := NewMachine(nil)
		walkTo(t, m, tt.from)
		if err := m.Transition(tt.to); err == nil {
			t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
		}
		if m.Current() != tt.from {
			t.Errorf("state = %s, want %s (unchanged)", m.Current(), tt.from)
		}
	}
}

// TestPaneLifecycle walks initial load, load-more and a final short page.
func TestPaneLifecycle(t *testing.T) {
	m := NewMachine(nil)

	if err := m.Transition(Loading); err != nil {
		t.Fatal(err)
	}
	if err := m.Finish(true); err != nil {
		t.Fatal(err)
	}
	if !m.HasMore() {
		t.Error("HasMore = false after full page")
	}
	if err := m.Transition(LoadingMore); err != nil {
		t.Fatal(err)
	}
	if m.HasMore() {
		t.Error("HasMore should read false while loading more")
	}
	if err := m.Finish(false); err != nil {
		t.Fatal(err)
	}
	if m.Current() != Loaded || m.HasMore() {
		t.Errorf("state = %s hasMore = %v, want LOADED false", m.Current(), m.HasMore())
	}
}

func TestFinishFromIdleFails(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Finish(true); err == nil {
		t.Error("Finish from IDLE should fail")
	}
}

func TestResetFromAnyState(t *testing.T) {
	for _, s := range []State{Idle, Loading, Loaded, LoadingMore} {
		m := NewMachine(nil)
		walkTo(t, m, s)
		m.Reset()
		if m.Current() != Idle {
			t.Errorf("Reset from %s: state = %s, want IDLE", s, m.Current())
		}
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("pane.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Loading); err != nil {
		t.Fatal(err)
	}
	if err := m.Finish(true); err != nil {
		t.Fatal(err)
	}

	want := []StateChange{
		{From: Idle, To: Loading},
		{From: Loading, To: Loaded, HasMore: true},
	}
	for _, w := range want {
		select {
		case evt := <-ch:
			if evt.Kind != EventStateChanged {
				t.Errorf("event kind = %q, want %s", evt.Kind, EventStateChanged)
			}
			change, ok := evt.Payload.(StateChange)
			if !ok {
				t.Fatalf("payload type = %T, want StateChange", evt.Payload)
			}
			if change != w {
				t.Errorf("change = %+v, want %+v", change, w)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for state event")
		}
	}
}

func TestResetWhenIdleIsSilent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("pane.", 10)
	defer unsub()

	NewMachine(b).Reset()
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %+v", evt)
	default:
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:        {},
		Loading:     {Loading},
		Loaded:      {Loading, Loaded},
		LoadingMore: {Loading, Loaded, LoadingMore},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
