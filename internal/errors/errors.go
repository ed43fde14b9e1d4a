// Package errors defines sentinel errors shared across internal packages.
package errors

import "errors"

// Credential and OAuth errors.
var (
	ErrAuthentication = errors.New("application credentials rejected")
	ErrStateMismatch  = errors.New("authorization state mismatch")
	ErrTokenExchange  = errors.New("token exchange failed")
	ErrNotAuthorized  = errors.New("no user authorization present")
)

// Document pipeline errors.
var (
	ErrNodeNotFound     = errors.New("wiki node not found")
	ErrPermissionDenied = errors.New("document permission denied")
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentFetch    = errors.New("document fetch failed")
)

// Chat relay errors.
var (
	ErrStreamTransport = errors.New("stream transport failed")
	ErrBusy            = errors.New("a generation is already in flight")
)
