package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrEntryRejected: entry order placement failed outright; no Position
	// was created.
	ErrEntryRejected = errors.New("entry order rejected")

	// ErrPositionExists: a position is already open for the symbol.
	ErrPositionExists = errors.New("position already open for symbol")

	// ErrPositionNotOpen: the operation requires an open position.
	ErrPositionNotOpen = errors.New("position not open")

	// ErrStaleFeed: the order book cache has received no update within the
	// staleness threshold; callers fall back to market pricing or wait.
	ErrStaleFeed = errors.New("order book feed stale")

	// ErrUnprotected: the entire placement fallback chain (limit,
	// conditional, protective market) failed; manual intervention required.
	ErrUnprotected = errors.New("protective order replacement failed")

	// ErrLockHeld: another engine instance already holds the symbol run lock.
	ErrLockHeld = errors.New("lock already held")
)
