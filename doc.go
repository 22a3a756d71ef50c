// Package auth provides authentication and role-based authorization for
// admin-panel services (credential verification, token stores, per-request
// identity resolution, and route guards) plus HTTP handlers for the common
// login, registration, and token endpoints.
//
// Identity resolution:
//   - TokenStore abstracts how issued tokens round-trip to an identity
//     snapshot. DatabaseTokenStore persists opaque tokens via Bun,
//     JWTTokenStore issues self-contained signed tokens, and
//     MemoryTokenStore keeps everything in-process for tests and tools.
//   - IdentityResolver extracts the bearer token from the request (header,
//     then cookie), loads the user, and caches the resulting
//     AuthenticationScope in fiber locals so later guards on the same
//     request never touch the store again.
//
// Authorization:
//   - RequirementSpec names the roles, groups, and permissions a route
//     demands. RequirementGuard evaluates it against the RBAC tables
//     (roles and groups by direct membership, permissions through the
//     full closure of direct grants, role permissions, and group role
//     permissions) and rejects with an identical response whether the
//     caller is anonymous or merely unauthorized.
//
// Account lifecycle:
//   - UserLifecycle moves accounts between pending, active, and disabled
//     with transition hooks, force overrides, and an activity trail.
//   - PasswordResetFlow runs the forgot-password sequence end to end:
//     open a ticket for an email address, verify the emailed link, and
//     redeem it for a new password (which also clears login throttling).
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the HTTP
//     controller to describe login, registration, token, and logout
//     events. Sinks run best-effort (errors are logged) so you can forward
//     to a database or queue without blocking authentication.
package auth
