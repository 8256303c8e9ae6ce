package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"matchbroker/internal/broker"
	"matchbroker/internal/ingest"
	"matchbroker/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// sessionBroker is the slice of the broker the HTTP layer drives. Every
// protocol decision lives behind it; handlers only translate between the
// wire vocabulary and these calls.
type sessionBroker interface {
	ServerLogin(ctx context.Context, req broker.ServerLoginRequest) (int64, error)
	ServerLogout(ctx context.Context, sessionID int64, addr string) error
	ServerHeartbeat(ctx context.Context, sessionID int64, addr string) error
	ClientHeartbeat(ctx context.Context, sessionID int64, addr string) error
	ServerClientConnect(ctx context.Context, serverSessionID, clientSessionID, ticket int64, clientAddr string) (*broker.ClientJoin, error)
	ServerClientDisconnect(ctx context.Context, serverSessionID, clientSessionID int64, matchRunning bool) error
	ClientLoginStart(ctx context.Context, login, password string) (int64, error)
	ClientLoginPoll(ctx context.Context, handle int64, addr string) (*broker.LoginResult, error)
	ClientAuthenticate(ctx context.Context, handle int64, secret string, valid bool, profileURL, profileURLRML string) error
	ClientLogout(ctx context.Context, sessionID int64, addr string) error
	ClientConnect(ctx context.Context, sessionID int64, addr, serverAddr string) (int64, error)
	MatchKey(ctx context.Context, serverSessionID int64, addr string) (string, error)
	ResolveReportingServer(ctx context.Context, serverSessionID int64, addr string) (*store.ServerSession, error)
}

type matchIngestor interface {
	AddReport(ctx context.Context, serverIdentityID, serverSessionID int64, payload, key string) (*ingest.Result, error)
}

func newRouter(st *store.Store, brk sessionBroker, ing matchIngestor) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(apiLogMiddleware()).Get("/healthz", healthHandler(st))

	r.Route("/api", func(r chi.Router) {
		r.Use(apiLogMiddleware())

		r.Post("/server/login", serverLoginHandler(brk))
		r.Post("/server/logout", serverLogoutHandler(brk))
		r.Post("/server/heartbeat", serverHeartbeatHandler(brk))
		r.Post("/server/clientconnect", serverClientConnectHandler(brk))
		r.Post("/server/clientdisconnect", serverClientDisconnectHandler(brk))
		r.Post("/server/matchreport", matchReportHandler(brk, ing))
		r.Post("/server/matchuuid", matchUUIDHandler(brk))

		r.Post("/client/login", clientLoginHandler(brk))
		r.Post("/client/logout", clientLogoutHandler(brk))
		r.Post("/client/connect", clientConnectHandler(brk))
		r.Post("/client/heartbeat", clientHeartbeatHandler(brk))

		r.Post("/auth/callback", authCallbackHandler(brk))
	})
	return r
}

func healthHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "db": "down"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "db": "up"})
	}
}

func logRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 16)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
