// Package session manages conversation threads and the identities that own them.
//
// # Store
//
// Store is the REST client for the session directory (list, create, update,
// delete, history). The per-identity session ceiling is enforced client-side:
// Create checks the count first and returns ErrSessionLimit without touching
// the directory when the ceiling is reached.
//
// # Identity
//
// A logged-in identity is the subject claim of the access token, extracted
// without verification (the backend verifies; the client only needs a stable
// owner key for sessions). Without a usable token the client generates a
// guest identity and persists it locally so an anonymous user keeps their
// sessions across runs.
//
// # Local State
//
// Local is a small SQLite database holding the active session ID, the guest
// identity, display preferences, and a mirror of guest turn history. The
// mirror exists because the directory may not retain unauthenticated
// sessions; for guests an unreachable directory falls back to it on loads.
package session
