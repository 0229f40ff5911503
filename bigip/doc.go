// Package bigip is a client for the appliance's iControl REST management API.
//
// It covers what onboarding needs: the readiness check gating every
// management call, a generic authenticated JSON request, chunked file upload,
// extension package installation through package-management tasks, and
// polling of asynchronous tasks returned by declarative extensions.
//
// # Errors
//
// Network failures surface as *interfaces.TransportError and non-2xx answers
// as *interfaces.ApplicationError carrying the status code and body, so
// callers can tell an unreachable device from a rejected request.
//
// # Readiness
//
// IsReady polls /mgmt/tm/sys/ready until configReady, licenseReady and
// provisionReady all report "yes". Each poll that is not ready consumes one
// attempt of the ready policy:
//
//	POLLING --all "yes"--> READY
//	POLLING --attempts exhausted--> EXHAUSTED (interfaces.ErrReadyCheckFailed)
package bigip
