// Package identity owns the user principal: phone normalization, user ids and
// the users table that also carries each user's refresh-token hash.
//
// Session semantics live in auth/session; this package only knows how to find
// or create the user a verified phone belongs to.
package identity
