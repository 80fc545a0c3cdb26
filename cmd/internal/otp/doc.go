// Package otp implements the one-time code lifecycle: issue, hash, persist,
// verify with bounded attempts, expire and rate limit.
//
// Plaintext codes exist only in the value returned by Service.Create, which
// the caller hands to the dispatch bridge. Stores only ever see argon2id
// hashes. Verification is a single atomic unit per phone+purpose so that
// concurrent attempts can never exceed the configured attempt budget.
//
// Delivery status is recorded for observability and never gates Verify.
package otp
