// Package actors bounds how many model streams run at once per provider.
// Each actor is one capacity slot; a local model server usually has one.
package actors

// ActorStatus represents the state of an actor slot.
type ActorStatus string

const (
	ActorIdle ActorStatus = "idle"
	ActorBusy ActorStatus = "busy"
)

// Actor represents a single model capacity slot bound to a provider.
type Actor struct {
	ID           string      `json:"id"`
	ProviderName string      `json:"provider_name"`
	Status       ActorStatus `json:"status"`
	Session      string      `json:"session,omitempty"`
}
