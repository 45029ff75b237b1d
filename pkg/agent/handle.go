package agent

import (
	"context"
	"fmt"
)

// Handle is the callable unit wrapping a conversational-agent runtime.
// Whether Invoke is safe under concurrent calls for the same conversation is
// a documented contract of the concrete handle, not of its callers.
type Handle interface {
	Invoke(ctx context.Context, text string) (string, error)
}

// SessionHandle is implemented by runtimes that multiplex conversations
// natively. InvokeSession routes the call to the conversation identified by
// contextID; no external wrapping is needed (or wanted) for such runtimes.
type SessionHandle interface {
	Handle
	InvokeSession(ctx context.Context, contextID, text string) (string, error)
}

// SessionSlot is implemented by runtimes that hold exactly one active
// conversation at a time in a mutable "current session" slot.
type SessionSlot interface {
	Handle
	SessionID() string
	SetSessionID(id string)
}

// Factory builds a fresh, fully isolated Handle.
type Factory func() (Handle, error)

// Family identifies the runtime family that produced a Handle.
type Family string

const (
	FamilyADK       Family = "adk"
	FamilyStrands   Family = "strands"
	FamilyLangGraph Family = "langgraph"
	FamilyCrewAI    Family = "crewai"
	FamilyGeneric   Family = "generic"
)

// ParseFamily converts a config string into a known Family.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case FamilyADK, FamilyStrands, FamilyLangGraph, FamilyCrewAI, FamilyGeneric:
		return Family(s), nil
	case "":
		return FamilyGeneric, nil
	default:
		return "", fmt.Errorf("unknown runtime family: %q", s)
	}
}

// NativeSession reports whether the family is known to implement its own
// multi-session isolation keyed by context id.
func (f Family) NativeSession() bool {
	return f == FamilyADK
}
