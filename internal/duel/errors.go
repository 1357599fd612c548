package duel

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgs       = errors.New("invalid arguments")
	ErrInvalidTarget     = errors.New("invalid duel target")
	ErrAlreadyPending    = fmt.Errorf("%w: target already has a pending challenge", ErrInvalidTarget)
	ErrBusy              = fmt.Errorf("%w: participant already in a duel in this chat", ErrInvalidTarget)
	ErrNotAuthorized     = errors.New("not a participant of this duel")
	ErrAlreadyMoved      = errors.New("move already declared this round")
	ErrExpired           = errors.New("duel invite expired")
	ErrRoundExpired      = fmt.Errorf("%w: round deadline passed", ErrExpired)
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrStaleWrite        = errors.New("stale write")
	ErrNotFound          = errors.New("duel not found")
	ErrInvalidMove       = errors.New("invalid move")
	ErrNotActive         = errors.New("duel is not active")

	errCorruptRecord = errors.New("corrupt duel record")
)
