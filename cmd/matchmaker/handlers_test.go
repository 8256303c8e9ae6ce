package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"matchbroker/internal/broker"
	"matchbroker/internal/ingest"
	"matchbroker/internal/store"
)

type fakeBroker struct {
	serverLogin            func(broker.ServerLoginRequest) (int64, error)
	serverLogout           func(int64, string) error
	serverHeartbeat        func(int64, string) error
	clientHeartbeat        func(int64, string) error
	serverClientConnect    func(int64, int64, int64, string) (*broker.ClientJoin, error)
	serverClientDisconnect func(int64, int64, bool) error
	clientLoginStart       func(string, string) (int64, error)
	clientLoginPoll        func(int64, string) (*broker.LoginResult, error)
	clientAuthenticate     func(int64, string, bool, string, string) error
	clientLogout           func(int64, string) error
	clientConnect          func(int64, string, string) (int64, error)
	matchKey               func(int64, string) (string, error)
	resolveReportingServer func(int64, string) (*store.ServerSession, error)
}

func (f *fakeBroker) ServerLogin(_ context.Context, req broker.ServerLoginRequest) (int64, error) {
	return f.serverLogin(req)
}

func (f *fakeBroker) ServerLogout(_ context.Context, id int64, addr string) error {
	return f.serverLogout(id, addr)
}

func (f *fakeBroker) ServerHeartbeat(_ context.Context, id int64, addr string) error {
	return f.serverHeartbeat(id, addr)
}

func (f *fakeBroker) ClientHeartbeat(_ context.Context, id int64, addr string) error {
	return f.clientHeartbeat(id, addr)
}

func (f *fakeBroker) ServerClientConnect(_ context.Context, ssv, scl, ticket int64, addr string) (*broker.ClientJoin, error) {
	return f.serverClientConnect(ssv, scl, ticket, addr)
}

func (f *fakeBroker) ServerClientDisconnect(_ context.Context, ssv, scl int64, gameOn bool) error {
	return f.serverClientDisconnect(ssv, scl, gameOn)
}

func (f *fakeBroker) ClientLoginStart(_ context.Context, login, password string) (int64, error) {
	return f.clientLoginStart(login, password)
}

func (f *fakeBroker) ClientLoginPoll(_ context.Context, handle int64, addr string) (*broker.LoginResult, error) {
	return f.clientLoginPoll(handle, addr)
}

func (f *fakeBroker) ClientAuthenticate(_ context.Context, handle int64, secret string, valid bool, purl, prml string) error {
	return f.clientAuthenticate(handle, secret, valid, purl, prml)
}

func (f *fakeBroker) ClientLogout(_ context.Context, id int64, addr string) error {
	return f.clientLogout(id, addr)
}

func (f *fakeBroker) ClientConnect(_ context.Context, id int64, addr, serverAddr string) (int64, error) {
	return f.clientConnect(id, addr, serverAddr)
}

func (f *fakeBroker) MatchKey(_ context.Context, id int64, addr string) (string, error) {
	return f.matchKey(id, addr)
}

func (f *fakeBroker) ResolveReportingServer(_ context.Context, id int64, addr string) (*store.ServerSession, error) {
	return f.resolveReportingServer(id, addr)
}

type fakeIngestor struct {
	addReport func(serverIdentityID, serverSessionID int64, payload, key string) (*ingest.Result, error)
}

func (f *fakeIngestor) AddReport(_ context.Context, serverIdentityID, serverSessionID int64, payload, key string) (*ingest.Result, error) {
	return f.addReport(serverIdentityID, serverSessionID, payload, key)
}

func postForm(t *testing.T, router http.Handler, path string, vals url.Values) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return w.Code, body
}

func TestServerLoginWire(t *testing.T) {
	var got broker.ServerLoginRequest
	brk := &fakeBroker{
		serverLogin: func(req broker.ServerLoginRequest) (int64, error) {
			got = req
			return 7, nil
		},
	}
	router := newRouter(nil, brk, &fakeIngestor{})

	code, body := postForm(t, router, "/api/server/login", url.Values{
		"authkey":       {"srv_key-1"},
		"port":          {"44401"},
		"hostname":      {"[EU] FFA"},
		"demos_baseurl": {"http://demos.example"},
	})
	if code != http.StatusOK {
		t.Fatalf("code = %d, want 200", code)
	}
	if body["id"] != float64(7) {
		t.Fatalf("id = %v, want 7", body["id"])
	}
	if got.AuthKey != "srv_key-1" || got.Port != 44401 || got.Hostname != "[EU] FFA" {
		t.Fatalf("unexpected login request: %+v", got)
	}
	if got.Addr != "192.0.2.1" {
		t.Fatalf("addr = %q, want remote ip without port", got.Addr)
	}

	brk.serverLogin = func(broker.ServerLoginRequest) (int64, error) {
		return 0, broker.ErrInvalidAuthKey
	}
	code, body = postForm(t, router, "/api/server/login", url.Values{"authkey": {"nope!"}})
	if code != http.StatusOK {
		t.Fatalf("denial code = %d, want 200", code)
	}
	if body["id"] != float64(0) {
		t.Fatalf("denial id = %v, want 0", body["id"])
	}
}

func TestStatusEndpoints(t *testing.T) {
	ok := true
	fail := func() error {
		if ok {
			return nil
		}
		return broker.ErrNoSession
	}
	brk := &fakeBroker{
		serverLogout:           func(int64, string) error { return fail() },
		serverHeartbeat:        func(int64, string) error { return fail() },
		clientHeartbeat:        func(int64, string) error { return fail() },
		clientLogout:           func(int64, string) error { return fail() },
		serverClientDisconnect: func(int64, int64, bool) error { return fail() },
	}
	router := newRouter(nil, brk, &fakeIngestor{})

	paths := []string{
		"/api/server/logout",
		"/api/server/heartbeat",
		"/api/client/heartbeat",
		"/api/client/logout",
		"/api/server/clientdisconnect",
	}
	for _, path := range paths {
		ok = true
		if _, body := postForm(t, router, path, url.Values{"ssession": {"1"}, "csession": {"1"}}); body["status"] != float64(1) {
			t.Fatalf("%s: status = %v, want 1", path, body["status"])
		}
		ok = false
		code, body := postForm(t, router, path, url.Values{"ssession": {"1"}, "csession": {"1"}})
		if code != http.StatusOK || body["status"] != float64(0) {
			t.Fatalf("%s: denial = %d %v, want 200 status 0", path, code, body["status"])
		}
	}
}

func TestClientDisconnectPassesGameOn(t *testing.T) {
	var gotGameOn bool
	brk := &fakeBroker{
		serverClientDisconnect: func(_, _ int64, gameOn bool) error {
			gotGameOn = gameOn
			return nil
		},
	}
	router := newRouter(nil, brk, &fakeIngestor{})

	postForm(t, router, "/api/server/clientdisconnect", url.Values{"ssession": {"1"}, "csession": {"2"}, "gameon": {"1"}})
	if !gotGameOn {
		t.Fatal("gameon=1 not passed through")
	}
	postForm(t, router, "/api/server/clientdisconnect", url.Values{"ssession": {"1"}, "csession": {"2"}, "gameon": {"0"}})
	if gotGameOn {
		t.Fatal("gameon=0 not passed through")
	}
}

func TestClientLoginWire(t *testing.T) {
	brk := &fakeBroker{
		clientLoginStart: func(login, password string) (int64, error) {
			if login != "player@example" {
				t.Fatalf("login = %q", login)
			}
			if password != "hunter2" {
				t.Fatalf("password = %q, want the posted credential", password)
			}
			return 41, nil
		},
	}
	router := newRouter(nil, brk, &fakeIngestor{})

	_, body := postForm(t, router, "/api/client/login", url.Values{
		"login":    {"player@example"},
		"password": {"hunter2"},
	})
	if body["ready"] != float64(-1) || body["handle"] != float64(41) || body["id"] != float64(0) {
		t.Fatalf("start response = %v", body)
	}

	brk.clientLoginPoll = func(handle int64, addr string) (*broker.LoginResult, error) {
		if handle != 41 {
			t.Fatalf("handle = %d", handle)
		}
		return &broker.LoginResult{Pending: true}, nil
	}
	_, body = postForm(t, router, "/api/client/login", url.Values{"handle": {"41"}})
	if body["ready"] != float64(1) || body["id"] != float64(0) {
		t.Fatalf("pending response = %v", body)
	}

	brk.clientLoginPoll = func(int64, string) (*broker.LoginResult, error) {
		return &broker.LoginResult{
			SessionID:     9,
			Ratings:       []store.GametypeRating{{Gametype: "duel", Rating: 12.5, Deviation: 0.8}},
			ProfileURL:    "http://stats.example/u/player",
			ProfileURLRML: "http://stats.example/u/player?s=9",
		}, nil
	}
	_, body = postForm(t, router, "/api/client/login", url.Values{"handle": {"41"}})
	if body["ready"] != float64(2) || body["id"] != float64(9) {
		t.Fatalf("resolved response = %v", body)
	}
	if body["profile_url_rml"] != "http://stats.example/u/player?s=9" {
		t.Fatalf("profile_url_rml = %v", body["profile_url_rml"])
	}
	ratings := body["ratings"].([]any)
	entry := ratings[0].(map[string]any)
	if entry["gametype"] != "duel" || entry["rating"] != 12.5 || entry["deviation"] != 0.8 {
		t.Fatalf("rating entry = %v", entry)
	}

	brk.clientLoginPoll = func(int64, string) (*broker.LoginResult, error) {
		return nil, broker.ErrLoginFailed
	}
	_, body = postForm(t, router, "/api/client/login", url.Values{"handle": {"41"}})
	if body["ready"] != float64(2) || body["id"] != float64(0) {
		t.Fatalf("failed response = %v", body)
	}
}

func TestClientConnectWire(t *testing.T) {
	brk := &fakeBroker{
		clientConnect: func(id int64, addr, serverAddr string) (int64, error) {
			if id != 9 || serverAddr != "198.51.100.4:44400" {
				t.Fatalf("connect args = %d %q", id, serverAddr)
			}
			return 123456, nil
		},
	}
	router := newRouter(nil, brk, &fakeIngestor{})

	_, body := postForm(t, router, "/api/client/connect", url.Values{
		"csession": {"9"},
		"saddr":    {"198.51.100.4:44400"},
	})
	if body["ticket"] != float64(123456) {
		t.Fatalf("ticket = %v", body["ticket"])
	}

	brk.clientConnect = func(int64, string, string) (int64, error) {
		return 0, broker.ErrUnknownServer
	}
	code, body := postForm(t, router, "/api/client/connect", url.Values{"csession": {"9"}})
	if code != http.StatusOK || body["ticket"] != float64(0) {
		t.Fatalf("denial = %d %v, want 200 ticket 0", code, body["ticket"])
	}
}

func TestServerClientConnectWire(t *testing.T) {
	var gotAddr string
	brk := &fakeBroker{
		serverClientConnect: func(ssv, scl, ticket int64, addr string) (*broker.ClientJoin, error) {
			if ssv != 7 || scl != 9 || ticket != 123456 {
				t.Fatalf("connect args = %d %d %d", ssv, scl, ticket)
			}
			gotAddr = addr
			return &broker.ClientJoin{
				SessionID: 9,
				Login:     "player@example",
				Ratings:   []store.GametypeRating{{Gametype: "duel", Rating: 12.5, Deviation: 0.8}},
			}, nil
		},
	}
	router := newRouter(nil, brk, &fakeIngestor{})

	// cip is the client's address as relayed by the server; the server's
	// own remote address must not reach the ticket check.
	_, body := postForm(t, router, "/api/server/clientconnect", url.Values{
		"ssession": {"7"},
		"csession": {"9"},
		"cticket":  {"123456"},
		"cip":      {"10.0.0.1:5000"},
	})
	if body["id"] != float64(9) || body["login"] != "player@example" {
		t.Fatalf("join response = %v", body)
	}
	if gotAddr != "10.0.0.1" {
		t.Fatalf("client addr = %q, want relayed cip without port", gotAddr)
	}

	_, _ = postForm(t, router, "/api/server/clientconnect", url.Values{
		"ssession": {"7"},
		"csession": {"9"},
		"cticket":  {"123456"},
		"cip":      {"10.0.0.1"},
	})
	if gotAddr != "10.0.0.1" {
		t.Fatalf("client addr = %q, want bare cip accepted", gotAddr)
	}

	brk.serverClientConnect = func(int64, int64, int64, string) (*broker.ClientJoin, error) {
		return nil, broker.ErrTicketExpired
	}
	_, body = postForm(t, router, "/api/server/clientconnect", url.Values{"ssession": {"7"}})
	if body["id"] != float64(0) {
		t.Fatalf("denial id = %v, want 0", body["id"])
	}
}

func TestMatchReportWire(t *testing.T) {
	var gotIdentity, gotSession int64
	var gotPayload, gotKey string
	brk := &fakeBroker{
		resolveReportingServer: func(id int64, addr string) (*store.ServerSession, error) {
			if id != 7 {
				t.Fatalf("ssession = %d", id)
			}
			return &store.ServerSession{ID: 7, IdentityID: 3, NextMatchKey: "key-1"}, nil
		},
	}
	ing := &fakeIngestor{
		addReport: func(identityID, sessionID int64, payload, key string) (*ingest.Result, error) {
			gotIdentity, gotSession, gotPayload, gotKey = identityID, sessionID, payload, key
			return &ingest.Result{
				Gametype: "duel",
				Ratings:  []ingest.RatingChange{{SessionID: 9, Rating: 13.1}},
			}, nil
		},
	}
	router := newRouter(nil, brk, ing)

	_, body := postForm(t, router, "/api/server/matchreport", url.Values{
		"ssession": {"7"},
		"data":     {"eJwabc"},
	})
	if body["status"] != float64(1) {
		t.Fatalf("status = %v, want 1", body["status"])
	}
	if gotIdentity != 3 || gotSession != 7 || gotPayload != "eJwabc" || gotKey != "key-1" {
		t.Fatalf("report args = %d %d %q %q", gotIdentity, gotSession, gotPayload, gotKey)
	}
	ratings := body["ratings"].(map[string]any)
	if ratings["gametype"] != "duel" {
		t.Fatalf("gametype = %v", ratings["gametype"])
	}
	change := ratings["ratings"].([]any)[0].(map[string]any)
	if change["session_id"] != float64(9) || change["rating"] != 13.1 {
		t.Fatalf("rating change = %v", change)
	}

	ing.addReport = func(int64, int64, string, string) (*ingest.Result, error) {
		return nil, ingest.ErrBadPayload
	}
	_, body = postForm(t, router, "/api/server/matchreport", url.Values{"ssession": {"7"}, "data": {"garbage"}})
	if body["status"] != float64(0) {
		t.Fatalf("bad payload status = %v, want 0", body["status"])
	}

	called := false
	ing.addReport = func(int64, int64, string, string) (*ingest.Result, error) {
		called = true
		return nil, nil
	}
	brk.resolveReportingServer = func(int64, string) (*store.ServerSession, error) {
		return nil, broker.ErrNoSession
	}
	_, body = postForm(t, router, "/api/server/matchreport", url.Values{"ssession": {"99"}})
	if body["status"] != float64(0) {
		t.Fatalf("unknown server status = %v, want 0", body["status"])
	}
	if called {
		t.Fatal("ingestion ran for an unresolved server")
	}
}

func TestMatchUUIDWire(t *testing.T) {
	brk := &fakeBroker{
		matchKey: func(id int64, addr string) (string, error) {
			return "3f2b0c1e-match-key", nil
		},
	}
	router := newRouter(nil, brk, &fakeIngestor{})

	_, body := postForm(t, router, "/api/server/matchuuid", url.Values{"ssession": {"7"}})
	if body["uuid"] != "3f2b0c1e-match-key" {
		t.Fatalf("uuid = %v", body["uuid"])
	}

	brk.matchKey = func(int64, string) (string, error) {
		return "", broker.ErrAddressMismatch
	}
	code, body := postForm(t, router, "/api/server/matchuuid", url.Values{"ssession": {"7"}})
	if code != http.StatusOK || body["uuid"] != "" {
		t.Fatalf("denial = %d %v, want 200 empty uuid", code, body["uuid"])
	}
}

func TestAuthCallbackWire(t *testing.T) {
	var gotHandle int64
	var gotSecret string
	var gotValid bool
	brk := &fakeBroker{
		clientAuthenticate: func(handle int64, secret string, valid bool, purl, prml string) error {
			gotHandle, gotSecret, gotValid = handle, secret, valid
			return nil
		},
	}
	router := newRouter(nil, brk, &fakeIngestor{})

	payload, _ := json.Marshal(map[string]any{
		"handle": 41, "secret": "s3cret", "valid": true,
		"profile_url": "http://stats.example/u/player",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/callback", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != float64(1) {
		t.Fatalf("status = %v, want 1", body["status"])
	}
	if gotHandle != 41 || gotSecret != "s3cret" || !gotValid {
		t.Fatalf("callback args = %d %q %v", gotHandle, gotSecret, gotValid)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/callback", strings.NewReader("{"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	body = map[string]any{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != float64(0) {
		t.Fatalf("bad body status = %v, want 0", body["status"])
	}
}
