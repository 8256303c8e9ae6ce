package broker

import "errors"

var (
	// ErrInvalidAuthKey rejects server authkeys with characters outside
	// letters, digits, underscore and dash, or empty keys.
	ErrInvalidAuthKey = errors.New("broker: invalid authkey")

	// ErrUnknownServer means no registered server matched the given
	// authkey or address.
	ErrUnknownServer = errors.New("broker: unknown server")

	// ErrNoSession means the referenced session id has no live session.
	ErrNoSession = errors.New("broker: no such session")

	// ErrAddressMismatch means the caller's address matched neither
	// family of the session or registration address.
	ErrAddressMismatch = errors.New("broker: address mismatch")

	// ErrBanned rejects banned server identities.
	ErrBanned = errors.New("broker: banned")

	// ErrLoginFailed means a two-phase login was denied or its handle
	// expired.
	ErrLoginFailed = errors.New("broker: login failed")

	// ErrBadCallback rejects auth callbacks whose secret does not match
	// the pending login.
	ErrBadCallback = errors.New("broker: bad auth callback")

	// ErrInvalidTicket means the presented ticket did not match the
	// client's issued ticket, target server or address.
	ErrInvalidTicket = errors.New("broker: invalid ticket")

	// ErrTicketExpired means the ticket was correct but presented after
	// its validity window.
	ErrTicketExpired = errors.New("broker: ticket expired")

	// ErrNotOnServer means a server reported a client that is not
	// attached to it.
	ErrNotOnServer = errors.New("broker: client not on server")
)
