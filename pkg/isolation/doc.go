// Package isolation keeps concurrent conversations against one agent from
// observing each other's state, while reusing expensive per-conversation
// resources across turns of the same conversation.
//
// Invariants:
// - At most one Record exists per context id inside one Manager.
// - A Record's bound handle is never shared with another Record.
// - The wrapping strategy is decided once, at construction, and never changes.
// - Registry bookkeeping happens under the registry lock; per-context handle
//   invocation does not.
//
// Usage:
//
//	mgr, _ := isolation.NewManager(isolation.Config{
//		Handle:  probe,
//		Family:  agent.FamilyGeneric,
//		Factory: factory,
//	})
//	reply, _ := mgr.Dispatch(ctx, "ctx1", "hello")
//	_ = reply
package isolation
