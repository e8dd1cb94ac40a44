package net

import "errors"

var (
	// ErrProtocolViolation marks a malformed length header or an out of range size.
	ErrProtocolViolation = errors.New("net: protocol violation")
	// ErrMessageTooLarge is returned when an encoded body exceeds the frame limit.
	ErrMessageTooLarge = errors.New("net: message too large")
	// ErrBackpressure marks a session destroyed because a backlog filled up.
	ErrBackpressure = errors.New("net: backlog exceeded")
	// ErrHandlerTimeout is logged when a handler does not finish within HandleTimeout.
	ErrHandlerTimeout = errors.New("net: handler timeout")
	// ErrDuplicateOperation is logged when an operation id is already pending.
	ErrDuplicateOperation = errors.New("net: duplicate operation id")
	// ErrCommandFiltered is returned when a command is on the dispatcher's block list.
	ErrCommandFiltered = errors.New("net: command filtered")
	// ErrNoHandler is returned for commands without a registered handler.
	ErrNoHandler = errors.New("net: no handler")
	// ErrSessionDestroyed is returned for operations on a destroyed session.
	ErrSessionDestroyed = errors.New("net: session destroyed")
)
