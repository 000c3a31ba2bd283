// Package jwt issues and verifies the two token kinds of a login session.
//
// Access tokens are short-lived and never persisted; their lifetime is the
// only mitigation for compromise. Refresh tokens carry a random jti that the
// session store persists, so revocation never requires decoding a token.
// Both kinds carry a "type" claim and each parser rejects the other kind.
package jwt
