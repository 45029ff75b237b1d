// Package agent defines the handle contracts for conversational-agent runtimes.
//
// Invariants:
// - A Handle is the only surface the rest of the system touches; runtime
//   internals are never reached into beyond the interfaces declared here.
// - A Handle built by a Factory is fully isolated: it shares no mutable
//   conversation state with any other Handle from the same Factory.
//
// Usage:
//
//	h := agent.NewChatHandle(provider, agent.ChatConfig{Model: "gpt-4o"})
//	reply, _ := h.Invoke(ctx, "hello")
//	_ = reply
package agent
