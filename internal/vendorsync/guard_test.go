package vendorsync

import (
	"context"
	"errors"
	"testing"
)

type scriptedRun struct {
	replies map[string]string
	fail    map[string]error
	calls   []string
}

func (s *scriptedRun) run(_ context.Context, command string) (string, error) {
	s.calls = append(s.calls, command)
	if err := s.fail[command]; err != nil {
		return "", err
	}
	return s.replies[command], nil
}

func (s *scriptedRun) broadcasts() int {
	n := 0
	for _, c := range s.calls {
		if c == reconcileBroadcast {
			n++
		}
	}
	return n
}

func TestMatches(t *testing.T) {
	tests := map[string]bool{
		"settings put system font_scale 1.1":   true,
		"settings put global adb_enabled 1":    true,
		"settings get system font_scale":       false,
		"wm density 480":                       false,
		"cmd overlay enable && settings put x": true,
	}
	for cmd, want := range tests {
		if got := Matches(cmd); got != want {
			t.Errorf("Matches(%q) = %v, want %v", cmd, got, want)
		}
	}
}

func TestAutoModeAffectedVendor(t *testing.T) {
	s := &scriptedRun{replies: map[string]string{manufacturerProp: "samsung"}}
	g := New(ModeAuto, nil, nil)

	g.AfterWrite(context.Background(), "settings put system font_scale 1.1", s.run)
	g.AfterWrite(context.Background(), "settings put system font_scale 1.0", s.run)

	if s.broadcasts() != 2 {
		t.Errorf("broadcasts = %d, want 2", s.broadcasts())
	}
	probes := 0
	for _, c := range s.calls {
		if c == manufacturerProp {
			probes++
		}
	}
	if probes != 1 {
		t.Errorf("manufacturer probed %d times, want 1", probes)
	}
}

func TestAutoModeUnaffectedVendor(t *testing.T) {
	s := &scriptedRun{replies: map[string]string{manufacturerProp: "Google"}}
	g := New(ModeAuto, nil, nil)

	g.AfterWrite(context.Background(), "settings put secure navigation_mode 2", s.run)
	if s.broadcasts() != 0 {
		t.Error("broadcast sent on an unaffected vendor")
	}
}

func TestCustomVendorListIsCaseInsensitive(t *testing.T) {
	s := &scriptedRun{replies: map[string]string{manufacturerProp: "OnePlus\n"}}
	g := New(ModeAuto, []string{"  ONEPLUS "}, nil)

	g.AfterWrite(context.Background(), "settings put system x 1", s.run)
	if s.broadcasts() != 1 {
		t.Errorf("broadcasts = %d, want 1", s.broadcasts())
	}
}

func TestNonMutationIgnored(t *testing.T) {
	s := &scriptedRun{}
	g := New(ModeAlways, nil, nil)

	g.AfterWrite(context.Background(), "wm density 480", s.run)
	if len(s.calls) != 0 {
		t.Errorf("guard ran %v for a non-settings command", s.calls)
	}
}

func TestOffModeNeverRuns(t *testing.T) {
	s := &scriptedRun{}
	g := New(ModeOff, nil, nil)

	g.AfterWrite(context.Background(), "settings put system x 1", s.run)
	if len(s.calls) != 0 {
		t.Errorf("guard ran %v in off mode", s.calls)
	}
}

func TestFailuresAreSwallowed(t *testing.T) {
	s := &scriptedRun{fail: map[string]error{reconcileBroadcast: errors.New("am: not found")}}
	g := New(ModeAlways, nil, nil)

	// Must not panic and has nothing to return.
	g.AfterWrite(context.Background(), "settings put system x 1", s.run)
	if s.broadcasts() != 1 {
		t.Errorf("broadcast attempts = %d, want 1", s.broadcasts())
	}
}

func TestFailedProbeRetried(t *testing.T) {
	s := &scriptedRun{fail: map[string]error{manufacturerProp: errors.New("getprop failed")}}
	g := New(ModeAuto, nil, nil)

	g.AfterWrite(context.Background(), "settings put system x 1", s.run)
	if s.broadcasts() != 0 {
		t.Fatal("broadcast sent without a successful probe")
	}

	delete(s.fail, manufacturerProp)
	s.replies = map[string]string{manufacturerProp: "samsung"}
	g.AfterWrite(context.Background(), "settings put system x 1", s.run)
	if s.broadcasts() != 1 {
		t.Errorf("broadcasts after recovered probe = %d, want 1", s.broadcasts())
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"auto", "Always", "off"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q): %v", s, err)
		}
	}
	if _, err := ParseMode("sometimes"); err == nil {
		t.Error("ParseMode accepted an unknown mode")
	}
}
