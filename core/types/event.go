package types

// Event represents a typed event emitted during ledger state transitions.
// Attributes are flat string pairs so downstream indexers and streams can
// consume them without schema knowledge.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
