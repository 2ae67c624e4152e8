package catalog

import (
	"fmt"
	"strings"
)

// Namespace names one of the device's structured settings tables.
type Namespace string

const (
	NamespaceSystem Namespace = "system"
	NamespaceSecure Namespace = "secure"
	NamespaceGlobal Namespace = "global"
)

// ValuePlaceholder is replaced by the literal value in ShellPair write templates.
const ValuePlaceholder = "{value}"

// Accessor describes how one configuration item is read and written. The set
// of variants is closed: System, Secure, Global and ShellPair.
//
// Consumers dispatch with Visit. Adding a variant adds a method to Visitor,
// so every consumer stops compiling until it handles the new case.
type Accessor interface {
	isAccessor()
}

// System is a key in the system namespace, writable under the grantable
// write-settings permission.
type System struct{ Key string }

// Secure is a key in the secure namespace; writes need elevation.
type Secure struct{ Key string }

// Global is a key in the global namespace; writes need elevation.
type Global struct{ Key string }

// ShellPair reads by running Read verbatim and writes by running
// WriteTemplate with every {value} replaced.
type ShellPair struct {
	Read          string
	WriteTemplate string
}

func (System) isAccessor()    {}
func (Secure) isAccessor()    {}
func (Global) isAccessor()    {}
func (ShellPair) isAccessor() {}

// Render substitutes value into every {value} placeholder. No other
// expansion is performed.
func (p ShellPair) Render(value string) string {
	return strings.ReplaceAll(p.WriteTemplate, ValuePlaceholder, value)
}

// Visitor handles every Accessor variant.
type Visitor[T any] interface {
	System(a System) T
	Secure(a Secure) T
	Global(a Global) T
	Shell(a ShellPair) T
}

// Visit dispatches a to the matching Visitor method.
func Visit[T any](a Accessor, v Visitor[T]) T {
	switch a := a.(type) {
	case System:
		return v.System(a)
	case Secure:
		return v.Secure(a)
	case Global:
		return v.Global(a)
	case ShellPair:
		return v.Shell(a)
	}
	// Unreachable: the interface is sealed to this package.
	panic(fmt.Sprintf("catalog: unhandled accessor %T", a))
}

// describer renders an accessor for display and logs.
type describer struct{}

func (describer) System(a System) string   { return "system/" + a.Key }
func (describer) Secure(a Secure) string   { return "secure/" + a.Key }
func (describer) Global(a Global) string   { return "global/" + a.Key }
func (describer) Shell(a ShellPair) string { return "shell: " + a.Read }

// Describe returns a short human-readable form such as "secure/navigation_mode".
func Describe(a Accessor) string {
	return Visit[string](a, describer{})
}

type namespacer struct{}

func (namespacer) System(System) Namespace   { return NamespaceSystem }
func (namespacer) Secure(Secure) Namespace   { return NamespaceSecure }
func (namespacer) Global(Global) Namespace   { return NamespaceGlobal }
func (namespacer) Shell(ShellPair) Namespace { return "" }

// NamespaceOf returns the structured namespace of a, or "" for shell pairs.
func NamespaceOf(a Accessor) Namespace {
	return Visit[Namespace](a, namespacer{})
}
