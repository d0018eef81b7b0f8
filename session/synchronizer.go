// ABOUTME: Session synchronizer coordinating remote identity, credential store,
// ABOUTME: local cache and reachability into a single current-user state machine.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"mealsync/store"
)

const (
	usersCollection = "users"
	currentUserKey  = "current"
	usersTable      = "users"
)

// Connectivity is the reachability signal the synchronizer consults before
// any network call. netmon.Monitor satisfies it.
type Connectivity interface {
	Connected() bool
}

// NewUserProfile carries the profile fields written to the user row right
// after sign-up.
type NewUserProfile struct {
	Name     string
	Username string
	Role     Role
}

// Synchronizer owns the current session for one process. It is an explicit
// handle, not a shared singleton: construct one per process (or per test)
// and pass it down. Session-mutating operations are linearized; Current and
// Subscribe are safe to call concurrently from any goroutine.
type Synchronizer struct {
	remote RemoteClient
	creds  CredentialStore
	cache  *store.Store
	net    Connectivity
	log    zerolog.Logger

	// opMu serializes sign-in, sign-out, restore and profile updates so two
	// writers never race on the local user snapshot.
	opMu sync.Mutex

	mu      sync.RWMutex
	state   State
	access  string
	subs    map[int]chan State
	nextSub int
}

// New constructs a Synchronizer in the SignedOut state.
func New(remote RemoteClient, creds CredentialStore, cache *store.Store, net Connectivity, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		remote: remote,
		creds:  creds,
		cache:  cache,
		net:    net,
		log:    log,
		state:  State{Status: StatusSignedOut},
		subs:   make(map[int]chan State),
	}
}

// Current returns the current session state.
func (s *Synchronizer) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

// CurrentUserID returns the signed-in user's identifier, or "" when none.
func (s *Synchronizer) CurrentUserID() string {
	st := s.Current()
	if !st.SignedIn() {
		return ""
	}
	return st.User.ID
}

// Subscribe registers for state-change notifications. Sends never block;
// a consumer that does not keep up may miss states. cancel unregisters
// and closes the channel.
func (s *Synchronizer) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan State, 8)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// SignUp creates an account, writes the initial profile to the user row,
// caches the canonical record and transitions to SignedIn.
func (s *Synchronizer) SignUp(ctx context.Context, email, password string, profile NewUserProfile) (User, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.net.Connected() {
		return User{}, &OpError{Op: "sign_up", Err: ErrNoNetwork}
	}
	sess, err := s.remote.SignUp(ctx, email, password)
	if err != nil {
		return User{}, err
	}

	fields := make(map[string]any)
	if profile.Name != "" {
		fields["name"] = profile.Name
	}
	if profile.Username != "" {
		fields["username"] = profile.Username
	}
	if profile.Role.Valid() {
		fields["role"] = string(profile.Role)
	}
	if len(fields) > 0 {
		// Profile write failing does not abort the sign-up; the account
		// exists and the row can be completed later.
		if err := s.remote.UpdateRow(ctx, usersTable, sess.UserID, fields); err != nil {
			s.log.Warn().Err(err).Msg("initial profile write failed")
		}
	}

	return s.establish(ctx, "sign_up", sess)
}

// SignIn authenticates with email/password, caches the canonical user record
// and transitions to SignedIn.
func (s *Synchronizer) SignIn(ctx context.Context, email, password string) (User, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.net.Connected() {
		return User{}, &OpError{Op: "sign_in", Err: ErrNoNetwork}
	}
	sess, err := s.remote.SignIn(ctx, email, password)
	if err != nil {
		return User{}, err
	}
	return s.establish(ctx, "sign_in", sess)
}

// Restore replays the session at process start. Offline restoration never
// touches the network: it serves the cached snapshot or reports SignedOut.
// Online, the refresh token is rotated and the user row re-fetched; a
// rejected refresh clears the credential and the snapshot immediately (no
// stale read-only display) and reports RefreshFailed.
func (s *Synchronizer) Restore(ctx context.Context) (State, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.setState(State{Status: StatusRestoring}, "")

	if !s.net.Connected() {
		if u := s.loadCachedUser(ctx); u != nil {
			st := State{Status: StatusSignedIn, User: u, FromCache: true}
			s.setState(st, "")
			return cloneState(st), nil
		}
		st := State{Status: StatusSignedOut}
		s.setState(st, "")
		return st, nil
	}

	token, ok := s.creds.Load(CredentialKey)
	if !ok {
		// No credential means logged out locally; the cascade clears any
		// leftover snapshot.
		s.clearLocal(ctx)
		st := State{Status: StatusSignedOut}
		s.setState(st, "")
		return st, nil
	}

	sess, err := s.remote.RefreshSession(ctx, token)
	if err != nil {
		// Expired or revoked refresh tokens are not retried: fail closed
		// on identity.
		s.clearLocal(ctx)
		st := State{Status: StatusRefreshFailed}
		s.setState(st, "")
		return st, err
	}

	if _, err := s.establish(ctx, "restore", sess); err != nil {
		s.clearLocal(ctx)
		st := State{Status: StatusRefreshFailed}
		s.setState(st, "")
		return st, err
	}
	return s.Current(), nil
}

// SignOut leaves the signed-in state unconditionally. Remote revocation is
// best-effort when reachable; its failure never blocks or reverses the local
// transition. Local state always wins.
func (s *Synchronizer) SignOut(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	access := s.access
	s.mu.RUnlock()

	if s.net.Connected() && access != "" {
		if err := s.remote.SignOut(ctx, access); err != nil {
			s.log.Warn().Err(err).Msg("remote sign-out failed, proceeding locally")
		}
	}
	s.clearLocal(ctx)
	s.setState(State{Status: StatusSignedOut}, "")
}

// UpdateProfile pushes changed profile fields to the remote row and re-caches
// the canonical record. A failing auth-provider email sub-update does not
// abort the row update or the local re-cache.
func (s *Synchronizer) UpdateProfile(ctx context.Context, upd ProfileUpdate) (User, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	cur := s.Current()
	if !cur.SignedIn() {
		return User{}, &OpError{Op: "update_profile", Err: ErrNoCredential}
	}
	if !s.net.Connected() {
		return User{}, &OpError{Op: "update_profile", Err: ErrNoNetwork}
	}

	s.mu.RLock()
	access := s.access
	s.mu.RUnlock()

	if upd.Email != "" {
		if err := s.remote.UpdateAuthEmail(ctx, access, upd.Email); err != nil {
			s.log.Warn().Err(err).Msg("auth email update failed, updating row anyway")
		}
	}
	if fields := upd.fields(); len(fields) > 0 {
		if err := s.remote.UpdateRow(ctx, usersTable, cur.User.ID, fields); err != nil {
			return User{}, err
		}
	}

	user, err := s.fetchUser(ctx, "update_profile", cur.User.ID)
	if err != nil {
		return User{}, err
	}
	s.cacheUser(ctx, user)
	s.setState(State{Status: StatusSignedIn, User: &user}, access)
	return user, nil
}

// establish finishes a successful auth exchange: persists the rotated
// credential, fetches the canonical user row and becomes SignedIn.
func (s *Synchronizer) establish(ctx context.Context, op string, sess Session) (User, error) {
	if !s.creds.Save(CredentialKey, sess.RefreshToken) {
		s.log.Warn().Str("op", op).Msg("credential not persisted, session limited to this process")
	}

	user, err := s.fetchUser(ctx, op, sess.UserID)
	if err != nil {
		// A credential with no established user must not linger: a later
		// restore would silently sign in after a failure the caller saw.
		s.creds.Delete(CredentialKey)
		return User{}, err
	}
	s.cacheUser(ctx, user)
	s.setState(State{Status: StatusSignedIn, User: &user}, sess.AccessToken)

	if !sess.ExpiresAt.IsZero() {
		s.log.Debug().Str("op", op).Time("expires_at", sess.ExpiresAt).Msg("session established")
	}
	return user, nil
}

func (s *Synchronizer) fetchUser(ctx context.Context, op, id string) (User, error) {
	raw, err := s.remote.FetchRow(ctx, usersTable, id)
	if err != nil {
		return User{}, err
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return User{}, &OpError{Op: op, Err: ErrDecode, Detail: err.Error()}
	}
	if user.ID == "" {
		return User{}, &OpError{Op: op, Err: ErrDecode, Detail: "user row missing id"}
	}
	return user, nil
}

func (s *Synchronizer) cacheUser(ctx context.Context, user User) {
	raw, err := json.Marshal(user)
	if err != nil {
		s.log.Warn().Err(err).Msg("user snapshot encode failed")
		return
	}
	if err := s.cache.Upsert(ctx, usersCollection, currentUserKey, raw); err != nil {
		s.log.Warn().Err(err).Msg("user snapshot write failed")
	}
}

func (s *Synchronizer) loadCachedUser(ctx context.Context) *User {
	raw, err := s.cache.Get(ctx, usersCollection, currentUserKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Err(err).Msg("user snapshot read failed, treating as absent")
		}
		return nil
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		s.log.Warn().Err(err).Msg("user snapshot corrupted, treating as absent")
		return nil
	}
	return &user
}

// clearLocal deletes the credential and cascades to the user snapshot.
func (s *Synchronizer) clearLocal(ctx context.Context) {
	s.creds.Delete(CredentialKey)
	if err := s.cache.Delete(ctx, usersCollection, currentUserKey); err != nil {
		s.log.Warn().Err(err).Msg("user snapshot delete failed")
	}
}

func (s *Synchronizer) setState(st State, access string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.access = access
	published := cloneState(st)
	// Sends happen under the lock so a concurrent cancel cannot close a
	// channel mid-send.
	for _, ch := range s.subs {
		select {
		case ch <- published:
		default:
		}
	}
}

func cloneState(st State) State {
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}
