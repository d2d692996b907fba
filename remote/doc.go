// Package remote is the device-side client for the authflow HTTP API.
//
// A Client holds at most one session and implements the orchestrator's
// IdentityProvider, ProfileStore, and SecondFactorGateway. Sign-ins and
// token refreshes are reported to the handler set with OnSessionEvent.
package remote
