package store

import (
	"context"
	"fmt"

	"matchbroker/internal/netaddr"
)

// ServerIdentityByAuthKey loads the server account registered under the
// given authkey.
func (s *Store) ServerIdentityByAuthKey(ctx context.Context, authKey string) (*ServerIdentity, error) {
	var si ServerIdentity
	var regV4, regV6, v4, v6 string
	err := s.pool.QueryRow(ctx, `
		SELECT id, auth_key, reg_ip, reg_ipv6, ip, ipv6, hostname, location, banned, demos_base_url
		FROM server_identities
		WHERE auth_key = $1`, authKey).
		Scan(&si.ID, &si.AuthKey, &regV4, &regV6, &v4, &v6, &si.Hostname, &si.Location, &si.Banned, &si.DemosBaseURL)
	if err != nil {
		return nil, fmt.Errorf("server identity by authkey: %w", mapNotFound(err))
	}
	si.RegAddr = netaddr.Pair{V4: regV4, V6: regV6}
	si.Addr = netaddr.Pair{V4: v4, V6: v6}
	return &si, nil
}

// UpdateServerIdentity records the server's self-reported hostname, demo
// base URL and last seen address.
func (s *Store) UpdateServerIdentity(ctx context.Context, id int64, addr netaddr.Pair, hostname, demosBaseURL string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE server_identities
		SET updated_at = now(), ip = $2, ipv6 = $3, hostname = $4, demos_base_url = $5
		WHERE id = $1`,
		id, addr.V4, addr.V6, hostname, demosBaseURL)
	if err != nil {
		return fmt.Errorf("update server identity: %w", err)
	}
	return nil
}

// EnsurePlayerIdentity loads the player account for login, creating it on
// first sight, and refreshes its last seen address.
func (s *Store) EnsurePlayerIdentity(ctx context.Context, login string, addr netaddr.Pair) (*PlayerIdentity, error) {
	var pi PlayerIdentity
	var v4, v6 string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO player_identities (login, nickname, ip, ipv6)
		VALUES ($1, $1, $2, $3)
		ON CONFLICT (login) DO UPDATE SET updated_at = now(), ip = $2, ipv6 = $3
		RETURNING id, login, nickname, ip, ipv6, location, banned`,
		login, addr.V4, addr.V6).
		Scan(&pi.ID, &pi.Login, &pi.Nickname, &v4, &v6, &pi.Location, &pi.Banned)
	if err != nil {
		return nil, fmt.Errorf("ensure player identity: %w", err)
	}
	pi.Addr = netaddr.Pair{V4: v4, V6: v6}
	return &pi, nil
}

// LoginNameByIdentity returns the login name of a player identity.
func (s *Store) LoginNameByIdentity(ctx context.Context, id int64) (string, error) {
	var login string
	err := s.pool.QueryRow(ctx, `SELECT login FROM player_identities WHERE id = $1`, id).Scan(&login)
	if err != nil {
		return "", fmt.Errorf("login name by identity: %w", mapNotFound(err))
	}
	return login, nil
}
