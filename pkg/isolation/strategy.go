package isolation

import (
	"errors"
	"fmt"

	"github.com/dita/anygate/pkg/agent"
)

// Strategy selects how context isolation is enforced for a runtime handle.
type Strategy int

const (
	// StrategyAuto defers the choice to Classify at manager construction.
	StrategyAuto Strategy = iota

	// StrategyNativeSession passes the context id straight through to a
	// runtime that multiplexes sessions itself. Wrapping such a runtime
	// would be redundant and could corrupt its own isolation.
	StrategyNativeSession

	// StrategyDelegatedSession swaps a single mutable session slot around
	// each call, under one lock shared across all context ids.
	StrategyDelegatedSession

	// StrategyPerContext builds a fresh, fully isolated handle per context
	// id via a factory.
	StrategyPerContext
)

func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyNativeSession:
		return "native-session"
	case StrategyDelegatedSession:
		return "delegated-session"
	case StrategyPerContext:
		return "per-context"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts a config string into a Strategy. Empty means auto.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "auto":
		return StrategyAuto, nil
	case "native-session":
		return StrategyNativeSession, nil
	case "delegated-session":
		return StrategyDelegatedSession, nil
	case "per-context":
		return StrategyPerContext, nil
	default:
		return StrategyAuto, fmt.Errorf("unknown isolation strategy: %q", s)
	}
}

// ErrClassification indicates the capability classifier could not determine
// a wrapping strategy. It is fatal at manager construction.
var ErrClassification = errors.New("agent handle cannot be classified")

// Classify inspects a handle and its runtime family and returns exactly one
// wrapping strategy. Pure inspection: no side effects, and the same handle
// always classifies the same way.
func Classify(h agent.Handle, family agent.Family) (Strategy, error) {
	if h == nil {
		return StrategyAuto, fmt.Errorf("%w: nil handle", ErrClassification)
	}

	// A context-id aware entry point wins over every other signal.
	if _, ok := h.(agent.SessionHandle); ok {
		return StrategyNativeSession, nil
	}

	if family.NativeSession() {
		return StrategyAuto, fmt.Errorf(
			"%w: family %q claims native session isolation but handle exposes no session entry point",
			ErrClassification, family)
	}

	if _, ok := h.(agent.SessionSlot); ok {
		return StrategyDelegatedSession, nil
	}

	return StrategyPerContext, nil
}
