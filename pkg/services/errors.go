package services

import "errors"

// Validation and lifecycle errors returned by the mission service. The API
// layer maps these onto HTTP status codes.
var (
	ErrInvalidTarget  = errors.New("invalid mission target")
	ErrTargetDenied   = errors.New("target denied by rules of engagement")
	ErrInvalidMode    = errors.New("invalid engagement mode")
	ErrInvalidScope   = errors.New("scope entry outside target domain")
	ErrMissionActive  = errors.New("mission is still active")
	ErrNotCancellable = errors.New("mission is not cancellable")
)
