// Package codehash hashes short one-time codes with Argon2id.
//
// Codes have very little entropy, so the slow hash is the only thing standing
// between a leaked otp_codes table and every outstanding code. Encoded hashes
// use the PHC string format and are treated as untrusted input on Verify.
package codehash
