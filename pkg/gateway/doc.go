// Package gateway adapts the stateless A2A wire protocol onto the context
// isolation manager. It parses inbound JSON-RPC requests, extracts the
// conversation context id and text payload, and maps dispatch failures to
// wire-level errors. The gateway is agnostic to which isolation strategy
// runs underneath it.
package gateway
