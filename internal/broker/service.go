package broker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"matchbroker/internal/keylock"
	"matchbroker/internal/netaddr"
	"matchbroker/internal/store"
)

// Config carries the broker's tunables.
type Config struct {
	// TicketExpiry is how long a connect ticket stays presentable.
	TicketExpiry time.Duration
	// LoginHandleTTL is how long an unclaimed two-phase login handle
	// survives before the janitor drops it.
	LoginHandleTTL time.Duration
	// DefaultGamePort is assumed when a client names a server without a
	// port.
	DefaultGamePort int
	// ProfileURL and ProfileURLRML are handed to clients on login.
	// {session} in the RML variant is replaced with the session id.
	ProfileURL    string
	ProfileURLRML string
	// AuthCallbackURL is where the auth service posts login verdicts.
	AuthCallbackURL string
}

// Service is the session and ticket broker. All state lives in the
// Gateway; the service serializes per-session work with keyed locks so
// concurrent requests for the same server or client cannot interleave.
type Service struct {
	gw    Gateway
	auth  AuthRequester
	cfg   Config
	locks *keylock.Mutex
	now   func() time.Time
}

// NewService builds a broker on top of gw and the auth requester.
func NewService(gw Gateway, auth AuthRequester, cfg Config) *Service {
	if cfg.TicketExpiry <= 0 {
		cfg.TicketExpiry = 60 * time.Second
	}
	if cfg.LoginHandleTTL <= 0 {
		cfg.LoginHandleTTL = 5 * time.Minute
	}
	if cfg.DefaultGamePort <= 0 {
		cfg.DefaultGamePort = 44400
	}
	return &Service{
		gw:    gw,
		auth:  auth,
		cfg:   cfg,
		locks: keylock.New(),
		now:   time.Now,
	}
}

// ServerLoginRequest is a game server's session request.
type ServerLoginRequest struct {
	AuthKey      string
	Addr         string
	Port         int
	Hostname     string
	DemosBaseURL string
}

func validAuthKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// ServerLogin authenticates a game server by authkey and source address
// and returns its session id. Logging in again from the same address is
// idempotent and refreshes the advertised port; a second login from a
// different address while a session is live is rejected.
func (s *Service) ServerLogin(ctx context.Context, req ServerLoginRequest) (int64, error) {
	if !validAuthKey(req.AuthKey) {
		return 0, ErrInvalidAuthKey
	}
	addr := netaddr.Parse(req.Addr)
	if addr.IsZero() {
		return 0, ErrAddressMismatch
	}

	ident, err := s.gw.ServerIdentityByAuthKey(ctx, req.AuthKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUnknownServer
		}
		return 0, err
	}
	if ident.Banned {
		return 0, ErrBanned
	}
	if !ident.RegAddr.Matches(addr) {
		return 0, ErrAddressMismatch
	}
	if err := s.gw.UpdateServerIdentity(ctx, ident.ID, addr, req.Hostname, req.DemosBaseURL); err != nil {
		return 0, err
	}

	unlock := s.locks.Lock(serverIdentKey(ident.ID))
	defer unlock()

	sess, err := s.gw.ServerSessionByIdentity(ctx, ident.ID)
	switch {
	case err == nil:
		if !sess.Addr.Matches(addr) {
			return 0, ErrAddressMismatch
		}
		sess.Port = req.Port
		if err := s.gw.UpdateServerSession(ctx, sess); err != nil {
			return 0, err
		}
		return sess.ID, nil
	case errors.Is(err, store.ErrNotFound):
		id, err := s.gw.CreateServerSession(ctx, &store.ServerSession{
			IdentityID: ident.ID,
			Addr:       addr,
			Digest:     store.NewID(),
			Port:       req.Port,
		})
		if err != nil {
			return 0, err
		}
		log.Info().Int64("session", id).Str("hostname", req.Hostname).Msg("server logged in")
		return id, nil
	default:
		return 0, err
	}
}

// ServerLogout tears down a server session. Purge obligations held by the
// session are resolved first so clients stuck purgable get released, and
// clients still attached are detached.
func (s *Service) ServerLogout(ctx context.Context, sessionID int64, addr string) error {
	if sessionID <= 0 {
		return ErrNoSession
	}
	unlock := s.locks.Lock(serverKey(sessionID))
	defer unlock()

	sess, err := s.gw.ServerSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSession
		}
		return err
	}
	if !sess.Addr.Matches(netaddr.Parse(addr)) {
		return ErrAddressMismatch
	}
	if err := s.gw.ResolvePurgeObligations(ctx, sess.ID); err != nil {
		return err
	}
	if err := s.gw.DetachClientsFromServer(ctx, sess.ID); err != nil {
		return err
	}
	if err := s.gw.DeleteServerSession(ctx, sess.ID); err != nil {
		return err
	}
	log.Info().Int64("session", sess.ID).Msg("server logged out")
	return nil
}

// ServerHeartbeat refreshes a server session's liveness.
func (s *Service) ServerHeartbeat(ctx context.Context, sessionID int64, addr string) error {
	if sessionID <= 0 {
		return ErrNoSession
	}
	sess, err := s.gw.ServerSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSession
		}
		return err
	}
	if !sess.Addr.Matches(netaddr.Parse(addr)) {
		return ErrAddressMismatch
	}
	return s.gw.TouchServerSession(ctx, sess.ID)
}

// ClientHeartbeat refreshes a client session's liveness.
func (s *Service) ClientHeartbeat(ctx context.Context, sessionID int64, addr string) error {
	if sessionID <= 0 {
		return ErrNoSession
	}
	sess, err := s.gw.ClientSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSession
		}
		return err
	}
	if !sess.Addr.Matches(netaddr.Parse(addr)) {
		return ErrAddressMismatch
	}
	return s.gw.TouchClientSession(ctx, sess.ID)
}

// ClientLoginStart opens a two-phase login: it stores a pending login and
// fires the out-of-band auth request carrying the client's credential.
// The returned handle is what the client polls with. The auth request
// runs detached from the caller's request lifetime.
func (s *Service) ClientLoginStart(ctx context.Context, login, password string) (int64, error) {
	if login == "" {
		return 0, ErrLoginFailed
	}
	secret := store.NewID()
	handle, err := s.gw.CreatePendingLogin(ctx, login, secret)
	if err != nil {
		return 0, err
	}
	go func() {
		reqCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.auth.RequestAuth(reqCtx, handle, login, password, secret, s.cfg.AuthCallbackURL); err != nil {
			log.Warn().Err(err).Int64("handle", handle).Msg("auth request failed")
		}
	}()
	return handle, nil
}

// LoginResult is the outcome of polling a two-phase login.
type LoginResult struct {
	// Pending is true while the auth verdict has not arrived yet.
	Pending       bool
	SessionID     int64
	Ratings       []store.GametypeRating
	ProfileURL    string
	ProfileURLRML string
}

// ClientLoginPoll checks a two-phase login. While unresolved it reports
// Pending; once resolved the handle is consumed and either a session is
// established or ErrLoginFailed returned. Polling an unknown or expired
// handle also fails the login.
func (s *Service) ClientLoginPoll(ctx context.Context, handle int64, addr string) (*LoginResult, error) {
	pl, err := s.gw.PendingLoginByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrLoginFailed
		}
		return nil, err
	}
	if !pl.Ready {
		return &LoginResult{Pending: true}, nil
	}
	if err := s.gw.DeletePendingLogin(ctx, handle); err != nil {
		return nil, err
	}
	if !pl.Valid {
		return nil, ErrLoginFailed
	}

	pair := netaddr.Parse(addr)
	ident, err := s.gw.EnsurePlayerIdentity(ctx, pl.Login, pair)
	if err != nil {
		return nil, err
	}
	if ident.Banned {
		return nil, ErrBanned
	}

	unlock := s.locks.Lock(clientIdentKey(ident.ID))
	defer unlock()

	var sessionID int64
	sess, err := s.gw.ClientSessionByIdentity(ctx, ident.ID)
	switch {
	case err == nil:
		// Re-login from anywhere reclaims the old session in a clean,
		// ticket-free state.
		sess.Addr = pair
		sess.TicketID = 0
		sess.TicketServerID = 0
		sess.TicketIssuedAt = time.Time{}
		sess.ServerSessionID = 0
		sess.Purgable = false
		if err := s.gw.UpdateClientSession(ctx, sess); err != nil {
			return nil, err
		}
		sessionID = sess.ID
	case errors.Is(err, store.ErrNotFound):
		sessionID, err = s.gw.CreateClientSession(ctx, &store.ClientSession{
			IdentityID: ident.ID,
			Addr:       pair,
			Digest:     store.NewID(),
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	ratings, err := s.gw.RatingsByIdentity(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	profileURL := pl.ProfileURL
	if profileURL == "" {
		profileURL = s.cfg.ProfileURL
	}
	profileURLRML := pl.ProfileURLRML
	if profileURLRML == "" {
		profileURLRML = s.cfg.ProfileURLRML
	}
	profileURLRML = strings.ReplaceAll(profileURLRML, "{session}", strconv.FormatInt(sessionID, 10))

	log.Info().Int64("session", sessionID).Str("login", pl.Login).Msg("client logged in")
	return &LoginResult{
		SessionID:     sessionID,
		Ratings:       ratings,
		ProfileURL:    profileURL,
		ProfileURLRML: profileURLRML,
	}, nil
}

// ClientAuthenticate applies the auth service's verdict to a pending
// login. The secret must match the one minted at login start.
func (s *Service) ClientAuthenticate(ctx context.Context, handle int64, secret string, valid bool, profileURL, profileURLRML string) error {
	pl, err := s.gw.PendingLoginByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrBadCallback
		}
		return err
	}
	if pl.Secret != secret {
		return ErrBadCallback
	}
	return s.gw.ResolvePendingLogin(ctx, handle, valid, profileURL, profileURLRML)
}

// ClientLogout ends a client session. A session a server still holds for
// an unreported match is kept, marked purgable, instead of deleted.
func (s *Service) ClientLogout(ctx context.Context, sessionID int64, addr string) error {
	if sessionID <= 0 {
		return ErrNoSession
	}
	unlock := s.locks.Lock(clientKey(sessionID))
	defer unlock()

	sess, err := s.gw.ClientSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSession
		}
		return err
	}
	if !sess.Addr.Matches(netaddr.Parse(addr)) {
		return ErrAddressMismatch
	}
	held, err := s.gw.HasPurgeObligation(ctx, sess.ID, sess.IdentityID)
	if err != nil {
		return err
	}
	if held {
		sess.Purgable = true
		sess.ServerSessionID = 0
		sess.TicketID = 0
		sess.TicketServerID = 0
		return s.gw.UpdateClientSession(ctx, sess)
	}
	return s.gw.DeleteClientSession(ctx, sess.ID)
}

// ClientConnect issues a fresh ticket for joining the server at
// serverAddr (host or host:port, default port applies). Issuing a ticket
// always clears any previous server attachment.
func (s *Service) ClientConnect(ctx context.Context, sessionID int64, addr, serverAddr string) (int64, error) {
	if sessionID <= 0 {
		return 0, ErrNoSession
	}
	host, port := netaddr.SplitPort(serverAddr)
	if port == 0 {
		port = s.cfg.DefaultGamePort
	}
	target := netaddr.Parse(host)
	if target.IsZero() {
		return 0, ErrUnknownServer
	}
	sv, err := s.gw.ServerSessionByAddr(ctx, target, port)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUnknownServer
		}
		return 0, err
	}

	unlock := s.locks.Lock(clientKey(sessionID))
	defer unlock()

	sess, err := s.gw.ClientSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNoSession
		}
		return 0, err
	}
	if !sess.Addr.Matches(netaddr.Parse(addr)) {
		return 0, ErrAddressMismatch
	}

	ticket := newTicket()
	sess.TicketID = ticket
	sess.TicketServerID = sv.ID
	sess.TicketIssuedAt = s.now()
	sess.ServerSessionID = 0
	if err := s.gw.UpdateClientSession(ctx, sess); err != nil {
		return 0, err
	}
	return ticket, nil
}

// ClientJoin is what a server learns about a client it admitted.
type ClientJoin struct {
	SessionID int64
	Login     string
	Ratings   []store.GametypeRating
}

// ServerClientConnect redeems a client's ticket at the server side. The
// ticket must match the client's issued ticket, name this very server,
// come from the client's address and still be inside its validity window.
// A redeemed ticket is consumed and the client attached to the server.
func (s *Service) ServerClientConnect(ctx context.Context, serverSessionID, clientSessionID, ticket int64, clientAddr string) (*ClientJoin, error) {
	if serverSessionID <= 0 {
		return nil, ErrNoSession
	}
	if clientSessionID <= 0 || ticket == 0 {
		return nil, ErrInvalidTicket
	}
	if _, err := s.gw.ServerSessionByID(ctx, serverSessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	unlock := s.locks.Lock(clientKey(clientSessionID))
	defer unlock()

	sess, err := s.gw.ClientSessionByID(ctx, clientSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidTicket
		}
		return nil, err
	}
	if sess.TicketID == 0 || sess.TicketID != ticket || sess.TicketServerID != serverSessionID {
		return nil, ErrInvalidTicket
	}
	if !sess.Addr.Matches(netaddr.Parse(clientAddr)) {
		return nil, ErrAddressMismatch
	}
	if s.now().After(sess.TicketIssuedAt.Add(s.cfg.TicketExpiry)) {
		return nil, ErrTicketExpired
	}

	sess.TicketID = 0
	sess.TicketServerID = 0
	sess.ServerSessionID = serverSessionID
	if err := s.gw.UpdateClientSession(ctx, sess); err != nil {
		return nil, err
	}

	login, err := s.gw.LoginNameByIdentity(ctx, sess.IdentityID)
	if err != nil {
		return nil, err
	}
	ratings, err := s.gw.RatingsByIdentity(ctx, sess.IdentityID)
	if err != nil {
		return nil, err
	}
	return &ClientJoin{SessionID: sess.ID, Login: login, Ratings: ratings}, nil
}

// ServerClientDisconnect detaches a client from the server. When a match
// is still running the server records a purge obligation so the client's
// session survives until the match report arrives.
func (s *Service) ServerClientDisconnect(ctx context.Context, serverSessionID, clientSessionID int64, matchRunning bool) error {
	if serverSessionID <= 0 || clientSessionID <= 0 {
		return ErrNoSession
	}
	unlock := s.locks.Lock(clientKey(clientSessionID))
	defer unlock()

	sess, err := s.gw.ClientSessionByID(ctx, clientSessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoSession
		}
		return err
	}
	if sess.ServerSessionID != serverSessionID {
		return ErrNotOnServer
	}
	if matchRunning {
		if err := s.gw.AddPurgeObligation(ctx, sess.ID, sess.IdentityID, serverSessionID); err != nil {
			return err
		}
	}
	sess.ServerSessionID = 0
	return s.gw.UpdateClientSession(ctx, sess)
}

// MatchKey mints the key the server must label its next match report
// with.
func (s *Service) MatchKey(ctx context.Context, serverSessionID int64, addr string) (string, error) {
	sess, err := s.resolveServer(ctx, serverSessionID, addr)
	if err != nil {
		return "", err
	}
	return s.gw.GenerateMatchKey(ctx, sess.ID)
}

// ResolveReportingServer authenticates a server session for match report
// submission and returns it, including the expected next match key.
func (s *Service) ResolveReportingServer(ctx context.Context, serverSessionID int64, addr string) (*store.ServerSession, error) {
	return s.resolveServer(ctx, serverSessionID, addr)
}

func (s *Service) resolveServer(ctx context.Context, sessionID int64, addr string) (*store.ServerSession, error) {
	if sessionID <= 0 {
		return nil, ErrNoSession
	}
	sess, err := s.gw.ServerSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	if !sess.Addr.Matches(netaddr.Parse(addr)) {
		return nil, ErrAddressMismatch
	}
	return sess, nil
}

// newTicket returns a nonzero random ticket id.
func newTicket() int64 {
	return int64(rand.Int31n(0x0ffffffe)) + 1
}

func serverIdentKey(id int64) string { return fmt.Sprintf("srvident/%d", id) }
func serverKey(id int64) string      { return fmt.Sprintf("srv/%d", id) }
func clientIdentKey(id int64) string { return fmt.Sprintf("cliident/%d", id) }
func clientKey(id int64) string      { return fmt.Sprintf("cli/%d", id) }
