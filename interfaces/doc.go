// Package interfaces defines the types shared by every component of the
// onboarding tool, separating definitions from implementations.
//
// # Document types
//
// OnboardConfig is the declarative document a run consumes. Its sections map
// to the phases of a run: runtime parameters, operations before and after the
// management API is ready, extension packages, extension service declarations
// and post hooks.
//
// # Parameters
//
// RuntimeParameter describes how a named value is obtained: literally, from a
// URL, from instance metadata or from a secret store. Parameters holds the
// resolved values; it is write-once per name.
//
// # Errors
//
// Sentinel errors identify failure classes across packages. Typed errors such
// as TransportError and ApplicationError match their sentinel with errors.Is
// and expose their cause with errors.Unwrap.
//
// # Cloud providers
//
// CloudClient is the contract between parameter resolution and the provider
// specific secret and metadata clients.
package interfaces
