package domain

import "errors"

// Sentinel errors for the application.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrUnauthorized  = errors.New("unauthorized access")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("resource already exists")
	ErrInternal      = errors.New("internal server error")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotConnected  = errors.New("signaling channel not connected")
	ErrGaveUp        = errors.New("reconnect attempts exhausted")
	ErrNoLocalMedia  = errors.New("no local media in this room")
	ErrMediaAcquire  = errors.New("local media acquisition failed")
	ErrRoomClosed    = errors.New("room already left")
	ErrAlreadyJoined = errors.New("room already joined")
)
