package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when an insert collides with a uniqueness
// constraint, such as a second submission of the same text to a contest
// or a taken username.
var ErrDuplicate = errors.New("storage: duplicate")

// ErrInsufficientCredits is returned by Deduct when the user's balance
// cannot cover the amount and overdraft is not allowed.
var ErrInsufficientCredits = errors.New("storage: insufficient credits")

// ErrInvalidState is returned when a lifecycle guard rejects a transition,
// such as closing a contest that never entered evaluation.
var ErrInvalidState = errors.New("storage: invalid state")
