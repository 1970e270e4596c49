// Package auth issues and verifies the bearer tokens that protect SnapDog's
// mutating API routes.
//
// Tokens are HS256 JWTs carrying a subject and one of three roles:
//
//	viewer      read status, browse media
//	controller  viewer + zone and client playback control
//	admin       controller + installer settings (latency, zone assignment)
//
// The role-permission mapping is static. Tokens are minted either by the
// operator (snapdog -issue-token) or by logging in as one of the accounts
// in api.auth.users, whose passwords are stored as Argon2id PHC hashes
// (snapdog -hash-password). Verification checks signature, issuer and
// expiry only.
package auth
