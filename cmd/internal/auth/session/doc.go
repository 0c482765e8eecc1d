// Package session guards protected operations.
//
// The Guard pulls the bearer token from the Authorization header and asks the
// identity store whether it names a valid session. It returns the token, not
// the email: operations that need the caller's identity resolve it
// separately. Session lifetimes and sweep cadence are configured here.
package session
