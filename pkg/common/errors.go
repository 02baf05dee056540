package common

import "errors"

// Failure kinds surfaced by the loading pipeline. Callers should test with errors.Is.
var (
	// ErrNetwork covers connect/read failures and unexpected HTTP statuses.
	ErrNetwork = errors.New("network failure")
	// ErrIntegrityMismatch means a resumed transfer no longer matches what was
	// persisted for it. It is also reported as ErrNetwork.
	ErrIntegrityMismatch = &integrityError{}
	// ErrDecode means the decoder could not produce an object from the fetched bytes.
	ErrDecode = errors.New("decode failure")
	// ErrCancelled means the task or transfer was cancelled before it finished.
	ErrCancelled = errors.New("cancelled")
	// ErrPersistence means a metadata or cache write did not reach the disk.
	ErrPersistence = errors.New("persistence failure")
	// ErrBusy means another task already owns the transfer for the same URL.
	ErrBusy = errors.New("transfer already in flight")
)

type integrityError struct{}

func (*integrityError) Error() string { return "integrity mismatch" }

// Is makes an integrity mismatch match ErrNetwork too.
func (*integrityError) Is(target error) bool { return target == ErrNetwork }
