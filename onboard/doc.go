// Package onboard runs the onboarding sequence of a device: runtime
// parameters are resolved, shell operations run before and after the
// management API becomes ready, extension packages are installed and their
// service declarations applied. Post hooks are notified of the outcome.
//
// A run is sequential and fail-fast. The first failing operation stops the
// run with a *PhaseError; earlier side effects are left in place.
package onboard
