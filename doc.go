// Package credcore implements the account authentication and
// credential-security core: the state machine that drives a login attempt
// from primary-credential check through MFA challenge to a fully
// authenticated session, plus the policies that protect the credential
// itself — lockout, password history, and single-use security tokens for
// password reset and account confirmation.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// credcore is the public surface. It exposes [Engine], [Builder],
// [Config], the [User] aggregate, and typed command results. Persistence
// mapping, notification delivery, RBAC, and the web layer are external
// collaborators behind the [CredentialStore], [CredentialHasher], and
// [WebAuthnVerifier] ports. The partial authentication session and email
// one-time codes live in Redis with their own short TTLs; neither is ever
// the system of record for "logged in."
//
// # What this package must NOT do
//
//   - Send email or push notifications. Commands return an explicit
//     []Effect describing what the caller must deliver.
//   - Expose Redis clients, internal stores, or encoding details in its
//     public API.
//   - Distinguish "unknown account" from "wrong credential" in any value
//     returned to callers (user-enumeration resistance); audit events
//     retain the internal distinction.
//
// # Concurrency contract
//
// Every command executes as an independent unit of work. Mutations to a
// single User aggregate go through [CredentialStore.MutateUser], which the
// store must serialize per aggregate (row lock or optimistic retry), so a
// security token is never consumable twice and a WebAuthn counter is never
// checked against a stale snapshot.
package credcore
