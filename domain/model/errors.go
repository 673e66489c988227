package model

import "errors"

// Programmer misuse. These are raised with panic, wrapped with the node path.
var (
	ErrReleased    = errors.New("model: node released")
	ErrNotCaptured = errors.New("model: node not captured by this snapshot")
	ErrFinished    = errors.New("model: transaction already finished")
)

var (
	ErrExists   = errors.New("model: child name already in use")
	ErrNotFound = errors.New("model: node not found")
	ErrBadName  = errors.New("model: invalid node name")
	ErrKind     = errors.New("model: value kind mismatch")
	ErrClosed   = errors.New("model: dispatcher closed")
)
