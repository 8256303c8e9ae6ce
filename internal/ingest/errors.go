package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrBadPayload means the report could not be decoded or parsed at
	// all: bad base64, bad zlib stream or malformed JSON.
	ErrBadPayload = errors.New("ingest: bad report payload")

	// ErrEmptyReport rejects empty report strings.
	ErrEmptyReport = errors.New("ingest: empty report")

	// ErrMatchTooShort rejects matches of 66 seconds or less.
	ErrMatchTooShort = errors.New("ingest: match too short")

	// ErrNoWinner means no winner could be determined from the report.
	ErrNoWinner = errors.New("ingest: no winner in report")

	// ErrTooFewPlayers means the report had too few rated participants
	// for a skill calculation.
	ErrTooFewPlayers = errors.New("ingest: too few players")

	// ErrKeyExhausted means a non-duplicate match key could not be found
	// within the retry budget.
	ErrKeyExhausted = errors.New("ingest: match key retries exhausted")
)

// ValidationError names the first missing or unusable report field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ingest: missing field %s", e.Field)
}

func missingField(field string) error {
	return &ValidationError{Field: field}
}
