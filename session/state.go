package session

// Status names the lifecycle phase of the current session.
type Status string

const (
	// StatusSignedOut means no credential and no current user exist locally.
	StatusSignedOut Status = "signed_out"
	// StatusRestoring means a startup restoration is in flight.
	StatusRestoring Status = "restoring"
	// StatusSignedIn means a current user is established, from the remote
	// service or from the local snapshot when offline.
	StatusSignedIn Status = "signed_in"
	// StatusRefreshFailed means a reachable refresh attempt was rejected.
	// The credential and snapshot have been cleared; behaviorally this is
	// signed out, kept distinct so callers can message the user.
	StatusRefreshFailed Status = "refresh_failed"
)

// State is a tagged variant describing the current session. User is non-nil
// exactly when Status is StatusSignedIn, which removes the "signed in but no
// identifier" class of inconsistency.
type State struct {
	Status Status
	User   *User
	// FromCache is true when User was served from the local snapshot
	// without a remote round trip.
	FromCache bool
}

// SignedIn reports whether a current user is established.
func (s State) SignedIn() bool {
	return s.Status == StatusSignedIn && s.User != nil
}
