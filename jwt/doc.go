// Package jwt is the default token codec: it signs access and refresh tokens,
// reads back their subject and expiry, and validates them with strict
// algorithm, issuer, audience and key-id checks.
//
// Access tokens carry the subject and a permission list ("perms", possibly
// empty). Refresh tokens carry only the subject. Both carry a "typ" claim so
// one kind can never be accepted in place of the other.
package jwt
