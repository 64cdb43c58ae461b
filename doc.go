// Package membership provides the identity and entitlement primitives for a
// course platform: credential storage, stateless session tokens, one time
// password reset tokens, and a subscription lifecycle driven by verified
// billing provider callbacks.
//
// Credentials are bcrypt hashes that never leave the package. The
// RegisterUserHandler and ChangePasswordHandler own every mutation of the
// hash; UserProvider owns verification, including the login attempt cool down.
//
// TokenService issues HS256 JWTs embedding the identity plus a snapshot of the
// subscription status at issuance time. The snapshot is advisory only:
// subscription gated routes re-read the authoritative status through the
// guards middleware instead of trusting the token.
//
// EntitlementService centralizes the subscription transition graph
// (none -> pending -> active -> cancelled), validates payment callbacks with
// an HMAC signature, and enforces the refund window against the payment
// ledger. Every transition is a conditional update keyed by the expected
// current status so concurrent callbacks cannot interleave.
//
// Hosts bring their own router bootstrap, configuration loader, and database
// setup; this package takes a bun.DB and a Config and exposes repositories,
// command handlers, services, and middleware.
package membership
