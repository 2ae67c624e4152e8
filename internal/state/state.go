package state

import (
	"fmt"
	"strings"
)

// State is the baseline an item is intended to reflect.
type State int

const (
	PlatformDefault State = iota
	Custom
	ForeignDefault
)

// Default is used when no state has been persisted for an item.
const Default = Custom

var names = [...]string{
	PlatformDefault: "PLATFORM_DEFAULT",
	Custom:          "CUSTOM",
	ForeignDefault:  "FOREIGN_DEFAULT",
}

// All lists every state in display order.
var All = []State{PlatformDefault, Custom, ForeignDefault}

func (s State) String() string {
	if s < 0 || int(s) >= len(names) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return names[s]
}

// ParseState accepts the persisted enum name, case-insensitively.
func ParseState(v string) (State, error) {
	up := strings.ToUpper(strings.TrimSpace(v))
	for i, n := range names {
		if n == up {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", v)
}

func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(names) {
		return nil, fmt.Errorf("invalid state %d", int(s))
	}
	return []byte(names[s]), nil
}

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
