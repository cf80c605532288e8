// Package auth defines the actor identity the engine operates on and the
// typed errors raised when privilege checks fail.
package auth

import "fmt"

// Actor is the single typed identity produced by the authentication
// boundary. Admin is resolved once, from the token's roles or the configured
// allowlist, never re-derived inside the engine.
type Actor struct {
	ID    string
	Admin bool
	// Source records which credential produced the identity (jwt, api_key,
	// actor_header) for diagnostics.
	Source string
}

// ForbiddenError indicates a privilege check failed. It is terminal; the
// caller must not retry.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// RequireAdminForce rejects force requests from non-admin actors before any
// state is touched. Force is a privileged override, never a fallback for
// ordinary contention.
func RequireAdminForce(actor Actor, force bool) error {
	if force && !actor.Admin {
		return ForbiddenError{Reason: "force requires admin"}
	}
	return nil
}
