package transit

import "time"

// AuthPhase is the state of the per-target challenge/response
// handshake tracked on Scope.AuthState (spec.md §4.6.4).
type AuthPhase int

const (
	AuthUnchallenged AuthPhase = iota
	AuthChallenged
	AuthResponding
	AuthSucceeded
	AuthFailed
)

// AuthState machine for a single target across the attempts of one
// exchange. Two consecutive challenges carrying the same responder
// token for the same scheme without progress trips auth_stalled
// (spec.md §4.6.4, §9).
type AuthState struct {
	Phase  AuthPhase
	Scheme AuthScheme

	// lastChallenge is the most recently seen challenge token (the
	// nonce/realm-bearing portion of WWW-Authenticate) for Scheme.
	lastChallenge string
	// stalledAt records when a second identical challenge was seen,
	// used only for diagnostics.
	stalledAt time.Time
	stalled   bool
}

// observeChallenge records a new challenge token for scheme and
// reports whether this is a stall: the same scheme presenting the
// same token twice in a row, meaning the credential just supplied was
// rejected without the server asking for anything new.
func (a *AuthState) observeChallenge(scheme AuthScheme, token string) bool {
	if a.Phase == AuthChallenged && a.Scheme == scheme && a.lastChallenge == token && token != "" {
		a.stalled = true
		a.stalledAt = time.Now()
		a.Phase = AuthFailed
		return true
	}
	a.Phase = AuthChallenged
	a.Scheme = scheme
	a.lastChallenge = token
	return false
}

// Stalled reports whether the last observeChallenge call detected a
// repeated, unproductive challenge.
func (a *AuthState) Stalled() bool { return a.stalled }
