package authflow

// FlattenPermissions returns the permission codes of all roles in one list.
// Duplicates are kept and order is irrelevant. The result is never nil.
func FlattenPermissions(roles []Role) []string {
	n := 0
	for _, r := range roles {
		n += len(r.Permissions)
	}
	out := make([]string, 0, n)
	for _, r := range roles {
		out = append(out, r.Permissions...)
	}
	return out
}

// issueTokenPair mints a full pair for p. ExpiresAt is read back from the
// access token so it always matches what the token encodes.
func (e *Engine) issueTokenPair(p Principal, roles []Role) (*TokenPair, error) {
	access, err := e.tokens.GenerateAccess(p.Username, FlattenPermissions(roles))
	if err != nil {
		return nil, unavailable(err)
	}
	refresh, err := e.tokens.GenerateRefresh(p.Username)
	if err != nil {
		return nil, unavailable(err)
	}
	exp, err := e.tokens.ExpiryOf(access)
	if err != nil {
		return nil, unavailable(err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}

// issuePendingToken mints the MFA-pending access token: no permissions and
// no refresh token.
func (e *Engine) issuePendingToken(p Principal) (*TokenPair, error) {
	access, err := e.tokens.GenerateAccess(p.Username, []string{})
	if err != nil {
		return nil, unavailable(err)
	}
	exp, err := e.tokens.ExpiryOf(access)
	if err != nil {
		return nil, unavailable(err)
	}
	return &TokenPair{AccessToken: access, ExpiresAt: exp}, nil
}
