package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"matchbroker/internal/netaddr"
	"matchbroker/internal/store"
)

type purgeRow struct {
	sessionID       int64
	identityID      int64
	serverSessionID int64
}

// fakeGateway is an in-memory Gateway for service tests.
type fakeGateway struct {
	mu             sync.Mutex
	nextID         int64
	serverIdents   map[string]*store.ServerIdentity
	playerIdents   map[string]*store.PlayerIdentity
	serverSessions map[int64]*store.ServerSession
	clientSessions map[int64]*store.ClientSession
	pendings       map[int64]*store.PendingLogin
	purges         []purgeRow
	ratings        map[int64][]store.GametypeRating
	matchKeys      map[string]bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		serverIdents:   map[string]*store.ServerIdentity{},
		playerIdents:   map[string]*store.PlayerIdentity{},
		serverSessions: map[int64]*store.ServerSession{},
		clientSessions: map[int64]*store.ClientSession{},
		pendings:       map[int64]*store.PendingLogin{},
		ratings:        map[int64][]store.GametypeRating{},
		matchKeys:      map[string]bool{},
	}
}

func (f *fakeGateway) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeGateway) addServerIdentity(authKey, regV4 string, banned bool) *store.ServerIdentity {
	f.mu.Lock()
	defer f.mu.Unlock()
	si := &store.ServerIdentity{ID: f.id(), AuthKey: authKey, RegAddr: netaddr.Pair{V4: regV4}, Banned: banned}
	f.serverIdents[authKey] = si
	return si
}

func (f *fakeGateway) ServerIdentityByAuthKey(_ context.Context, authKey string) (*store.ServerIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	si, ok := f.serverIdents[authKey]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *si
	return &c, nil
}

func (f *fakeGateway) UpdateServerIdentity(_ context.Context, id int64, addr netaddr.Pair, hostname, demosBaseURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, si := range f.serverIdents {
		if si.ID == id {
			si.Addr = addr
			si.Hostname = hostname
			si.DemosBaseURL = demosBaseURL
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeGateway) ServerSessionByID(_ context.Context, id int64) (*store.ServerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.serverSessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeGateway) ServerSessionByIdentity(_ context.Context, identityID int64) (*store.ServerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.serverSessions {
		if s.IdentityID == identityID {
			c := *s
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeGateway) ServerSessionByAddr(_ context.Context, addr netaddr.Pair, port int) (*store.ServerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.serverSessions {
		if s.Port == port && s.Addr.Matches(addr) {
			c := *s
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeGateway) CreateServerSession(_ context.Context, sess *store.ServerSession) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *sess
	c.ID = f.id()
	f.serverSessions[c.ID] = &c
	return c.ID, nil
}

func (f *fakeGateway) UpdateServerSession(_ context.Context, sess *store.ServerSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.serverSessions[sess.ID]; !ok {
		return store.ErrNotFound
	}
	c := *sess
	f.serverSessions[c.ID] = &c
	return nil
}

func (f *fakeGateway) TouchServerSession(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.serverSessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (f *fakeGateway) DeleteServerSession(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.serverSessions, id)
	return nil
}

func (f *fakeGateway) DetachClientsFromServer(_ context.Context, serverSessionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clientSessions {
		if c.ServerSessionID == serverSessionID {
			c.ServerSessionID = 0
		}
	}
	return nil
}

func (f *fakeGateway) EnsurePlayerIdentity(_ context.Context, login string, addr netaddr.Pair) (*store.PlayerIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pi, ok := f.playerIdents[login]
	if !ok {
		pi = &store.PlayerIdentity{ID: f.id(), Login: login, Nickname: login}
		f.playerIdents[login] = pi
	}
	pi.Addr = addr
	c := *pi
	return &c, nil
}

func (f *fakeGateway) LoginNameByIdentity(_ context.Context, id int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pi := range f.playerIdents {
		if pi.ID == id {
			return pi.Login, nil
		}
	}
	return "", store.ErrNotFound
}

func (f *fakeGateway) RatingsByIdentity(_ context.Context, identityID int64) ([]store.GametypeRating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.GametypeRating(nil), f.ratings[identityID]...), nil
}

func (f *fakeGateway) ClientSessionByID(_ context.Context, id int64) (*store.ClientSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.clientSessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeGateway) ClientSessionByIdentity(_ context.Context, identityID int64) (*store.ClientSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.clientSessions {
		if s.IdentityID == identityID {
			c := *s
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeGateway) CreateClientSession(_ context.Context, sess *store.ClientSession) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *sess
	c.ID = f.id()
	f.clientSessions[c.ID] = &c
	return c.ID, nil
}

func (f *fakeGateway) UpdateClientSession(_ context.Context, sess *store.ClientSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clientSessions[sess.ID]; !ok {
		return store.ErrNotFound
	}
	c := *sess
	f.clientSessions[c.ID] = &c
	return nil
}

func (f *fakeGateway) TouchClientSession(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.clientSessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (f *fakeGateway) DeleteClientSession(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clientSessions, id)
	return nil
}

func (f *fakeGateway) CreatePendingLogin(_ context.Context, login, secret string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pl := &store.PendingLogin{Handle: f.id(), CreatedAt: time.Now(), Login: login, Secret: secret}
	f.pendings[pl.Handle] = pl
	return pl.Handle, nil
}

func (f *fakeGateway) PendingLoginByHandle(_ context.Context, handle int64) (*store.PendingLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pl, ok := f.pendings[handle]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *pl
	return &c, nil
}

func (f *fakeGateway) ResolvePendingLogin(_ context.Context, handle int64, valid bool, profileURL, profileURLRML string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pl, ok := f.pendings[handle]
	if !ok {
		return store.ErrNotFound
	}
	pl.Ready = true
	pl.Valid = valid
	pl.ProfileURL = profileURL
	pl.ProfileURLRML = profileURLRML
	return nil
}

func (f *fakeGateway) DeletePendingLogin(_ context.Context, handle int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pendings, handle)
	return nil
}

func (f *fakeGateway) DeleteExpiredPendingLogins(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for h, pl := range f.pendings {
		if pl.CreatedAt.Before(cutoff) {
			delete(f.pendings, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeGateway) AddPurgeObligation(_ context.Context, sessionID, identityID, serverSessionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purges = append(f.purges, purgeRow{sessionID, identityID, serverSessionID})
	return nil
}

func (f *fakeGateway) HasPurgeObligation(_ context.Context, sessionID, identityID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.purges {
		if p.sessionID == sessionID && p.identityID == identityID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGateway) ResolvePurgeObligations(_ context.Context, serverSessionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.purges[:0]
	released := map[int64]struct{}{}
	for _, p := range f.purges {
		if p.serverSessionID == serverSessionID {
			released[p.sessionID] = struct{}{}
			continue
		}
		kept = append(kept, p)
	}
	f.purges = kept
	for sid := range released {
		still := false
		for _, p := range f.purges {
			if p.sessionID == sid {
				still = true
				break
			}
		}
		if !still {
			if s, ok := f.clientSessions[sid]; ok && s.Purgable {
				delete(f.clientSessions, sid)
			}
		}
	}
	return nil
}

func (f *fakeGateway) GenerateMatchKey(_ context.Context, serverSessionID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.serverSessions[serverSessionID]
	if !ok {
		return "", store.ErrNotFound
	}
	key := fmt.Sprintf("key-%d", f.id())
	s.NextMatchKey = key
	return key, nil
}

// fakeAuth records outbound auth requests.
type fakeAuth struct {
	mu    sync.Mutex
	calls []authCall
	done  chan struct{}
}

type authCall struct {
	handle      int64
	login       string
	password    string
	secret      string
	callbackURL string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{done: make(chan struct{}, 8)}
}

func (f *fakeAuth) RequestAuth(_ context.Context, handle int64, login, password, secret, callbackURL string) error {
	f.mu.Lock()
	f.calls = append(f.calls, authCall{handle, login, password, secret, callbackURL})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeAuth) wait(t interface{ Fatalf(string, ...any) }) authCall {
	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for auth request")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}
