package broker

import (
	"context"
	"time"

	"matchbroker/internal/netaddr"
	"matchbroker/internal/store"
)

// Gateway is the persistence surface the broker needs. *store.Store
// implements it; tests use an in-memory fake.
type Gateway interface {
	ServerIdentityByAuthKey(ctx context.Context, authKey string) (*store.ServerIdentity, error)
	UpdateServerIdentity(ctx context.Context, id int64, addr netaddr.Pair, hostname, demosBaseURL string) error

	ServerSessionByID(ctx context.Context, id int64) (*store.ServerSession, error)
	ServerSessionByIdentity(ctx context.Context, identityID int64) (*store.ServerSession, error)
	ServerSessionByAddr(ctx context.Context, addr netaddr.Pair, port int) (*store.ServerSession, error)
	CreateServerSession(ctx context.Context, sess *store.ServerSession) (int64, error)
	UpdateServerSession(ctx context.Context, sess *store.ServerSession) error
	TouchServerSession(ctx context.Context, id int64) error
	DeleteServerSession(ctx context.Context, id int64) error
	DetachClientsFromServer(ctx context.Context, serverSessionID int64) error

	EnsurePlayerIdentity(ctx context.Context, login string, addr netaddr.Pair) (*store.PlayerIdentity, error)
	LoginNameByIdentity(ctx context.Context, id int64) (string, error)
	RatingsByIdentity(ctx context.Context, identityID int64) ([]store.GametypeRating, error)

	ClientSessionByID(ctx context.Context, id int64) (*store.ClientSession, error)
	ClientSessionByIdentity(ctx context.Context, identityID int64) (*store.ClientSession, error)
	CreateClientSession(ctx context.Context, sess *store.ClientSession) (int64, error)
	UpdateClientSession(ctx context.Context, sess *store.ClientSession) error
	TouchClientSession(ctx context.Context, id int64) error
	DeleteClientSession(ctx context.Context, id int64) error

	CreatePendingLogin(ctx context.Context, login, secret string) (int64, error)
	PendingLoginByHandle(ctx context.Context, handle int64) (*store.PendingLogin, error)
	ResolvePendingLogin(ctx context.Context, handle int64, valid bool, profileURL, profileURLRML string) error
	DeletePendingLogin(ctx context.Context, handle int64) error
	DeleteExpiredPendingLogins(ctx context.Context, cutoff time.Time) (int64, error)

	AddPurgeObligation(ctx context.Context, sessionID, identityID, serverSessionID int64) error
	HasPurgeObligation(ctx context.Context, sessionID, identityID int64) (bool, error)
	ResolvePurgeObligations(ctx context.Context, serverSessionID int64) error

	GenerateMatchKey(ctx context.Context, serverSessionID int64) (string, error)
}

// AuthRequester starts the out-of-band credential check of a two-phase
// client login. The auth service answers later on the callback URL.
type AuthRequester interface {
	RequestAuth(ctx context.Context, handle int64, login, password, secret, callbackURL string) error
}
