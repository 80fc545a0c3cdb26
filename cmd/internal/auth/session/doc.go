// Package session implements single-session bearer tokens with refresh rotation.
//
// Each user holds at most one live refresh token. Only its hash is stored
// (HMAC-SHA256 when AUTOTM_TOKEN_HMAC_KEY is set, SHA-256 otherwise).
// Refresh swaps the stored hash with a compare-and-set; presenting a token
// whose hash is no longer current is treated as replay and revokes the session.
//
// Tokens are PASETO v4.public by default, or HS256 JWTs when configured.
package session
