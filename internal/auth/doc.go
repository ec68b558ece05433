// Package auth provides authentication and authorisation for MicroCoaster Core.
//
// It implements a two-tier role model (user → admin) with:
//   - Argon2id hashing for user passwords and module secrets
//   - Short-lived HS256 JWT access tokens carrying the user id and role
//   - A static role-permission mapping (compile-time, no database lookup)
//
// Users see and command only the modules they own. Admins additionally see
// fleet-wide statistics, all modules and user activity events, but command
// routing is still restricted to owners.
package auth
