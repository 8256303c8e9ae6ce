package main

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"matchbroker/internal/logging"
	"matchbroker/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
)

func apiLogMiddleware() func(http.Handler) http.Handler {
	return httplog.RequestLogger(
		slog.New(slog.NewJSONHandler(logging.Writer(), &slog.HandlerOptions{})),
		&httplog.Options{
			Level:              slog.LevelInfo,
			Schema:             httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
			LogRequestBody:     func(*http.Request) bool { return false },
			LogResponseBody:    func(*http.Request) bool { return false },
			LogRequestHeaders:  []string{},
			LogResponseHeaders: []string{},
			LogExtraAttrs: func(req *http.Request, _ string, _ int) []slog.Attr {
				rc := chi.RouteContext(req.Context())
				route := req.URL.Path
				if rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				return []slog.Attr{
					slog.String("request_id", chimw.GetReqID(req.Context())),
					slog.String("method", req.Method),
					slog.String("route", route),
					slog.String("path", req.URL.Path),
				}
			},
		},
	)
}

// remoteIP is the caller's bare IP. RealIP middleware already resolved
// forwarding headers into RemoteAddr; here only a possible port suffix
// is stripped.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// formInt64 reads a numeric request field; malformed or absent values
// read as 0, which every operation treats as a denial.
func formInt64(r *http.Request, key string) int64 {
	n, err := strconv.ParseInt(r.FormValue(key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formBool(r *http.Request, key string) bool {
	switch r.FormValue(key) {
	case "", "0", "false":
		return false
	}
	return true
}

type ratingEntry struct {
	Gametype  string  `json:"gametype"`
	Rating    float64 `json:"rating"`
	Deviation float64 `json:"deviation"`
}

func ratingsPayload(ratings []store.GametypeRating) []ratingEntry {
	out := make([]ratingEntry, 0, len(ratings))
	for _, rt := range ratings {
		out = append(out, ratingEntry{Gametype: rt.Gametype, Rating: rt.Rating, Deviation: rt.Deviation})
	}
	return out
}
