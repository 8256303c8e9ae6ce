package store

import (
	"context"
	"fmt"

	"matchbroker/internal/netaddr"
)

const serverSessionCols = `id, created_at, updated_at, identity_id, ip, ipv6, digest, port, COALESCE(next_match_key, '')`

func scanServerSession(row interface{ Scan(...any) error }) (*ServerSession, error) {
	var s ServerSession
	var v4, v6 string
	err := row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt, &s.IdentityID, &v4, &v6, &s.Digest, &s.Port, &s.NextMatchKey)
	if err != nil {
		return nil, mapNotFound(err)
	}
	s.Addr = netaddr.Pair{V4: v4, V6: v6}
	return &s, nil
}

// ServerSessionByID loads one server session.
func (s *Store) ServerSessionByID(ctx context.Context, id int64) (*ServerSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+serverSessionCols+` FROM server_sessions WHERE id = $1`, id)
	sess, err := scanServerSession(row)
	if err != nil {
		return nil, fmt.Errorf("server session by id: %w", err)
	}
	return sess, nil
}

// ServerSessionByIdentity loads the live session of a server identity,
// if any. A server identity has at most one session.
func (s *Store) ServerSessionByIdentity(ctx context.Context, identityID int64) (*ServerSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+serverSessionCols+` FROM server_sessions WHERE identity_id = $1`, identityID)
	sess, err := scanServerSession(row)
	if err != nil {
		return nil, fmt.Errorf("server session by identity: %w", err)
	}
	return sess, nil
}

// ServerSessionByAddr finds the server session listening on addr:port.
// Either address family of addr may match.
func (s *Store) ServerSessionByAddr(ctx context.Context, addr netaddr.Pair, port int) (*ServerSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+serverSessionCols+`
		FROM server_sessions
		WHERE port = $3 AND ((ip <> '' AND ip = $1) OR (ipv6 <> '' AND ipv6 = $2))
		ORDER BY id
		LIMIT 1`,
		addr.V4, addr.V6, port)
	sess, err := scanServerSession(row)
	if err != nil {
		return nil, fmt.Errorf("server session by addr: %w", err)
	}
	return sess, nil
}

// CreateServerSession inserts a new server session and returns its id.
func (s *Store) CreateServerSession(ctx context.Context, sess *ServerSession) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO server_sessions (identity_id, ip, ipv6, digest, port)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		sess.IdentityID, sess.Addr.V4, sess.Addr.V6, sess.Digest, sess.Port).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create server session: %w", err)
	}
	return id, nil
}

// UpdateServerSession persists the mutable fields of a server session.
func (s *Store) UpdateServerSession(ctx context.Context, sess *ServerSession) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE server_sessions
		SET updated_at = now(), ip = $2, ipv6 = $3, port = $4, next_match_key = NULLIF($5, '')
		WHERE id = $1`,
		sess.ID, sess.Addr.V4, sess.Addr.V6, sess.Port, sess.NextMatchKey)
	if err != nil {
		return fmt.Errorf("update server session: %w", err)
	}
	return nil
}

// TouchServerSession bumps the session's updated_at.
func (s *Store) TouchServerSession(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE server_sessions SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch server session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteServerSession removes a server session.
func (s *Store) DeleteServerSession(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM server_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server session: %w", err)
	}
	return nil
}

const clientSessionCols = `id, created_at, updated_at, identity_id, ip, ipv6, digest, ticket_id, ticket_server_id, ticket_issued_at, server_session_id, purgable`

func scanClientSession(row interface{ Scan(...any) error }) (*ClientSession, error) {
	var c ClientSession
	var v4, v6 string
	err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.IdentityID, &v4, &v6, &c.Digest,
		&c.TicketID, &c.TicketServerID, &c.TicketIssuedAt, &c.ServerSessionID, &c.Purgable)
	if err != nil {
		return nil, mapNotFound(err)
	}
	c.Addr = netaddr.Pair{V4: v4, V6: v6}
	return &c, nil
}

// ClientSessionByID loads one client session.
func (s *Store) ClientSessionByID(ctx context.Context, id int64) (*ClientSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+clientSessionCols+` FROM client_sessions WHERE id = $1`, id)
	sess, err := scanClientSession(row)
	if err != nil {
		return nil, fmt.Errorf("client session by id: %w", err)
	}
	return sess, nil
}

// ClientSessionByIdentity loads the live session of a player identity,
// if any.
func (s *Store) ClientSessionByIdentity(ctx context.Context, identityID int64) (*ClientSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+clientSessionCols+` FROM client_sessions WHERE identity_id = $1`, identityID)
	sess, err := scanClientSession(row)
	if err != nil {
		return nil, fmt.Errorf("client session by identity: %w", err)
	}
	return sess, nil
}

// CreateClientSession inserts a new client session and returns its id.
func (s *Store) CreateClientSession(ctx context.Context, sess *ClientSession) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO client_sessions (identity_id, ip, ipv6, digest, ticket_id, ticket_server_id, ticket_issued_at, server_session_id, purgable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		sess.IdentityID, sess.Addr.V4, sess.Addr.V6, sess.Digest,
		sess.TicketID, sess.TicketServerID, sess.TicketIssuedAt, sess.ServerSessionID, sess.Purgable).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create client session: %w", err)
	}
	return id, nil
}

// UpdateClientSession persists the mutable fields of a client session.
func (s *Store) UpdateClientSession(ctx context.Context, sess *ClientSession) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE client_sessions
		SET updated_at = now(), ip = $2, ipv6 = $3,
		    ticket_id = $4, ticket_server_id = $5, ticket_issued_at = $6,
		    server_session_id = $7, purgable = $8
		WHERE id = $1`,
		sess.ID, sess.Addr.V4, sess.Addr.V6,
		sess.TicketID, sess.TicketServerID, sess.TicketIssuedAt,
		sess.ServerSessionID, sess.Purgable)
	if err != nil {
		return fmt.Errorf("update client session: %w", err)
	}
	return nil
}

// TouchClientSession bumps the session's updated_at.
func (s *Store) TouchClientSession(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE client_sessions SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch client session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteClientSession removes a client session.
func (s *Store) DeleteClientSession(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM client_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete client session: %w", err)
	}
	return nil
}

// DetachClientsFromServer clears the server link of every client session
// attached to the given server session.
func (s *Store) DetachClientsFromServer(ctx context.Context, serverSessionID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE client_sessions SET updated_at = now(), server_session_id = 0
		WHERE server_session_id = $1`, serverSessionID)
	if err != nil {
		return fmt.Errorf("detach clients from server: %w", err)
	}
	return nil
}

// TranslateSessionIdentities maps client session ids to player identity
// ids. Session ids with no live session are absent from the result.
func (s *Store) TranslateSessionIdentities(ctx context.Context, sessionIDs []int64) (map[int64]int64, error) {
	if len(sessionIDs) == 0 {
		return map[int64]int64{}, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, identity_id FROM client_sessions WHERE id = ANY($1)`, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("translate session identities: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]int64, len(sessionIDs))
	for rows.Next() {
		var sid, iid int64
		if err := rows.Scan(&sid, &iid); err != nil {
			return nil, fmt.Errorf("translate session identities: %w", err)
		}
		out[sid] = iid
	}
	return out, rows.Err()
}
