package main

import (
	"net/http"

	"matchbroker/internal/netaddr"

	"github.com/rs/zerolog/log"
)

// Denials are payload-level: the game speaks HTTP 200 with a zero value
// in the per-endpoint vocabulary, never HTTP error codes.

func denied(r *http.Request, op string, err error) {
	log.Warn().Err(err).Str("op", op).Str("ip", remoteIP(r)).Msg("request denied")
}

func serverLoginHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := brk.ServerLogin(r.Context(), serverLoginRequest(r))
		if err != nil {
			denied(r, "server_login", err)
			writeJSON(w, map[string]any{"id": 0})
			return
		}
		writeJSON(w, map[string]any{"id": id})
	}
}

func serverLogoutHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := brk.ServerLogout(r.Context(), formInt64(r, "ssession"), remoteIP(r)); err != nil {
			denied(r, "server_logout", err)
			writeJSON(w, map[string]any{"status": 0})
			return
		}
		writeJSON(w, map[string]any{"status": 1})
	}
}

func serverHeartbeatHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := brk.ServerHeartbeat(r.Context(), formInt64(r, "ssession"), remoteIP(r)); err != nil {
			denied(r, "server_heartbeat", err)
			writeJSON(w, map[string]any{"status": 0})
			return
		}
		writeJSON(w, map[string]any{"status": 1})
	}
}

func serverClientConnectHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The server relays the joining client's address in cip; the
		// caller's own address would never match the client session.
		clientIP, _ := netaddr.SplitPort(r.FormValue("cip"))
		join, err := brk.ServerClientConnect(r.Context(),
			formInt64(r, "ssession"), formInt64(r, "csession"), formInt64(r, "cticket"), clientIP)
		if err != nil {
			denied(r, "server_client_connect", err)
			writeJSON(w, map[string]any{"id": 0})
			return
		}
		writeJSON(w, map[string]any{
			"id":      join.SessionID,
			"login":   join.Login,
			"ratings": ratingsPayload(join.Ratings),
		})
	}
}

func serverClientDisconnectHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := brk.ServerClientDisconnect(r.Context(),
			formInt64(r, "ssession"), formInt64(r, "csession"), formBool(r, "gameon"))
		if err != nil {
			denied(r, "server_client_disconnect", err)
			writeJSON(w, map[string]any{"status": 0})
			return
		}
		writeJSON(w, map[string]any{"status": 1})
	}
}

func matchReportHandler(brk sessionBroker, ing matchIngestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := brk.ResolveReportingServer(r.Context(), formInt64(r, "ssession"), remoteIP(r))
		if err != nil {
			denied(r, "match_report", err)
			writeJSON(w, map[string]any{"status": 0})
			return
		}
		res, err := ing.AddReport(r.Context(), sess.IdentityID, sess.ID, r.FormValue("data"), sess.NextMatchKey)
		if err != nil {
			denied(r, "match_report", err)
			writeJSON(w, map[string]any{"status": 0})
			return
		}
		changes := make([]map[string]any, 0, len(res.Ratings))
		for _, rc := range res.Ratings {
			changes = append(changes, map[string]any{"session_id": rc.SessionID, "rating": rc.Rating})
		}
		writeJSON(w, map[string]any{
			"status":  1,
			"ratings": map[string]any{"gametype": res.Gametype, "ratings": changes},
		})
	}
}

func matchUUIDHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := brk.MatchKey(r.Context(), formInt64(r, "ssession"), remoteIP(r))
		if err != nil {
			denied(r, "match_uuid", err)
			writeJSON(w, map[string]any{"uuid": ""})
			return
		}
		writeJSON(w, map[string]any{"uuid": key})
	}
}
