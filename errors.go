package workerbee

import "errors"

var (
	// Store errors.
	ErrNoStore            = errors.New("workerbee: no store configured")
	ErrExperimentNotFound = errors.New("workerbee: experiment not found")
	ErrJobNotFound        = errors.New("workerbee: job not found")

	// Claim errors. A guarded status update found the row no longer in the
	// state this worker last set it to.
	ErrClaimLost = errors.New("workerbee: claim lost")

	// Configuration errors. Fatal to the worker that hits them at startup.
	ErrInvalidExperimentID = errors.New("workerbee: invalid experiment id")
	ErrDuplicateJob        = errors.New("workerbee: duplicate job id in seed input")
	ErrNoJobFunction       = errors.New("workerbee: no job function provided")
)
