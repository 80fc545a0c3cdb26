// Package token provides refresh-token hashing primitives.
//
// It is the single source of truth for how refresh tokens are reduced to the
// value stored on the user record:
//   - HMAC-SHA256(token, key) when AUTOTM_TOKEN_HMAC_KEY is configured.
//   - SHA-256(token) otherwise (development only).
//
// Output is always 64 hex chars so stored values compare in constant time.
package token
