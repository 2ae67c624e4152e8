package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/parity/internal/storage"
)

// --- Mock KV ---

type mockKV struct {
	mu   sync.Mutex
	data map[string]string

	allCalls int
	failSet  error
}

func newMockKV() *mockKV {
	return &mockKV{data: make(map[string]string)}
}

func (m *mockKV) SetKey(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = value
	return nil
}

func (m *mockKV) AllKeys() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allCalls++
	cp := make(map[string]string, len(m.data))
	for k, v := range m.data {
		cp[k] = v
	}
	return cp, nil
}

func (m *mockKV) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allCalls
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestStateDefaultsToCustom(t *testing.T) {
	s := NewStore(newMockKV(), nil)

	st, err := s.State("font_scale")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st != Custom {
		t.Errorf("state = %v, want CUSTOM", st)
	}
}

func TestUnknownPersistedStateFallsBack(t *testing.T) {
	kv := newMockKV()
	kv.data["state_font_scale"] = "SOMETHING_ELSE"
	s := NewStore(kv, nil)

	st, err := s.State("font_scale")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st != Custom {
		t.Errorf("state = %v, want CUSTOM", st)
	}
}

func TestKeyLayout(t *testing.T) {
	kv := newMockKV()
	s := NewStore(kv, nil)

	if err := s.SetCustomValue("window_animation_scale", "0.75"); err != nil {
		t.Fatalf("SetCustomValue: %v", err)
	}
	if err := s.SetState("window_animation_scale", ForeignDefault); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	if got := kv.data["custom_window_animation_scale"]; got != "0.75" {
		t.Errorf("custom key = %q, want 0.75", got)
	}
	if got := kv.data["state_window_animation_scale"]; got != "FOREIGN_DEFAULT" {
		t.Errorf("state key = %q, want FOREIGN_DEFAULT", got)
	}

	v, ok, err := s.CustomValue("window_animation_scale")
	if err != nil || !ok || v != "0.75" {
		t.Errorf("CustomValue = (%q, %v, %v)", v, ok, err)
	}
	if _, ok, _ := s.CustomValue("other"); ok {
		t.Error("CustomValue reported a value for an unsaved item")
	}
}

func TestSetErrorSurfaces(t *testing.T) {
	kv := newMockKV()
	kv.failSet = errors.New("disk full")
	s := NewStore(kv, nil)

	if err := s.SetState("a", PlatformDefault); err == nil {
		t.Error("expected error from failing KV")
	}
}

func TestCacheTTL(t *testing.T) {
	kv := newMockKV()
	clock := &mockClock{now: time.Now()}
	s := NewStoreWithClock(kv, clock, 60*time.Second, nil)

	s.State("a")
	s.CustomValue("a")

	if kv.calls() != 1 {
		t.Errorf("expected 1 store call (cache hit on second), got %d", kv.calls())
	}

	clock.Advance(61 * time.Second)
	s.State("a")
	if kv.calls() != 2 {
		t.Errorf("expected 2 store calls (cache expired), got %d", kv.calls())
	}
}

func TestWriteInvalidatesCache(t *testing.T) {
	kv := newMockKV()
	clock := &mockClock{now: time.Now()}
	s := NewStoreWithClock(kv, clock, time.Hour, nil)

	if st, _ := s.State("a"); st != Custom {
		t.Fatalf("initial state = %v", st)
	}
	if err := s.SetState("a", PlatformDefault); err != nil {
		t.Fatal(err)
	}
	if st, _ := s.State("a"); st != PlatformDefault {
		t.Errorf("state after write = %v, want PLATFORM_DEFAULT", st)
	}
}

func TestRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := NewStore(db, nil)
	if err := s.SetState("Y", Custom); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := s.SetState("Z", ForeignDefault); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	db.Close()

	db, err = storage.Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	s = NewStore(db, nil)

	for id, want := range map[string]State{"Y": Custom, "Z": ForeignDefault, "never_written": Custom} {
		got, err := s.State(id)
		if err != nil {
			t.Fatalf("State(%s): %v", id, err)
		}
		if got != want {
			t.Errorf("State(%s) = %v, want %v", id, got, want)
		}
	}
}

func TestParseState(t *testing.T) {
	for _, st := range All {
		got, err := ParseState(st.String())
		if err != nil || got != st {
			t.Errorf("ParseState(%q) = (%v, %v)", st.String(), got, err)
		}
	}
	if got, err := ParseState("foreign_default"); err != nil || got != ForeignDefault {
		t.Errorf("lowercase parse = (%v, %v)", got, err)
	}
	if _, err := ParseState("DEFAULT"); err == nil {
		t.Error("ParseState accepted an unknown name")
	}
}
