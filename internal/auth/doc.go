// Package auth provides authentication and authorisation for Forge Panel.
//
// It implements dynamic roles with typed permission sets plus per-server
// access grants, with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - JWT access/refresh token rotation with family-based theft detection
//   - Panel-wide permissions resolved from a user's assigned role
//   - Per-server access levels (viewer < operator < admin < owner)
//   - Atomic ownership transfer keeping exactly one owner per server
//
// Server access uses a "zero access by default, grant explicitly" model:
// a user with no grants cannot touch any server. Ownership is seeded at
// server creation and moves only through TransferOwnership; the owner
// entry can never be revoked or level-changed directly. Panel admins
// bypass per-server grants entirely.
package auth
