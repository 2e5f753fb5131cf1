package solver

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when a training loop is
	// already active.
	ErrAlreadyRunning = errors.New("training already running")

	// ErrSnapshotVersion is returned when an imported snapshot was written
	// by an incompatible format version.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")

	// ErrSnapshotCorrupt is returned when a snapshot fails to decode.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
)
