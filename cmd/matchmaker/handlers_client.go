package main

import (
	"encoding/json"
	"net/http"

	"matchbroker/internal/broker"
)

func serverLoginRequest(r *http.Request) broker.ServerLoginRequest {
	return broker.ServerLoginRequest{
		AuthKey:      r.FormValue("authkey"),
		Addr:         remoteIP(r),
		Port:         int(formInt64(r, "port")),
		Hostname:     r.FormValue("hostname"),
		DemosBaseURL: r.FormValue("demos_baseurl"),
	}
}

// Login readiness codes on the wire: -1 handle issued, 1 still pending,
// 2 resolved (id 0 on failure).
const (
	loginWireHandle   = -1
	loginWirePending  = 1
	loginWireResolved = 2
)

func clientLoginHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := formInt64(r, "handle")
		if handle == 0 {
			h, err := brk.ClientLoginStart(r.Context(), r.FormValue("login"), r.FormValue("password"))
			if err != nil {
				denied(r, "client_login", err)
				writeJSON(w, map[string]any{"ready": loginWireResolved, "id": 0})
				return
			}
			writeJSON(w, map[string]any{"ready": loginWireHandle, "handle": h, "id": 0})
			return
		}

		res, err := brk.ClientLoginPoll(r.Context(), handle, remoteIP(r))
		if err != nil {
			denied(r, "client_login", err)
			writeJSON(w, map[string]any{"ready": loginWireResolved, "id": 0})
			return
		}
		if res.Pending {
			writeJSON(w, map[string]any{"ready": loginWirePending, "id": 0})
			return
		}
		writeJSON(w, map[string]any{
			"ready":           loginWireResolved,
			"id":              res.SessionID,
			"ratings":         ratingsPayload(res.Ratings),
			"profile_url":     res.ProfileURL,
			"profile_url_rml": res.ProfileURLRML,
		})
	}
}

func clientLogoutHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := brk.ClientLogout(r.Context(), formInt64(r, "csession"), remoteIP(r)); err != nil {
			denied(r, "client_logout", err)
			writeJSON(w, map[string]any{"status": 0})
			return
		}
		writeJSON(w, map[string]any{"status": 1})
	}
}

func clientConnectHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticket, err := brk.ClientConnect(r.Context(), formInt64(r, "csession"), remoteIP(r), r.FormValue("saddr"))
		if err != nil {
			denied(r, "client_connect", err)
			writeJSON(w, map[string]any{"ticket": 0})
			return
		}
		writeJSON(w, map[string]any{"ticket": ticket})
	}
}

func clientHeartbeatHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := brk.ClientHeartbeat(r.Context(), formInt64(r, "csession"), remoteIP(r)); err != nil {
			denied(r, "client_heartbeat", err)
			writeJSON(w, map[string]any{"status": 0})
			return
		}
		writeJSON(w, map[string]any{"status": 1})
	}
}

// authCallbackHandler receives the auth service's verdict for a pending
// login. Unlike the game-facing endpoints it takes a JSON body, matching
// the request the broker sent out.
func authCallbackHandler(brk sessionBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Handle        int64  `json:"handle"`
			Secret        string `json:"secret"`
			Valid         bool   `json:"valid"`
			ProfileURL    string `json:"profile_url"`
			ProfileURLRML string `json:"profile_url_rml"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			denied(r, "auth_callback", err)
			writeJSON(w, map[string]any{"status": 0})
			return
		}
		err := brk.ClientAuthenticate(r.Context(), body.Handle, body.Secret, body.Valid, body.ProfileURL, body.ProfileURLRML)
		if err != nil {
			denied(r, "auth_callback", err)
			writeJSON(w, map[string]any{"status": 0})
			return
		}
		writeJSON(w, map[string]any{"status": 1})
	}
}
