package persist

import "time"

// RenameOutcome names what happened to the previous file before a write.
type RenameOutcome int

const (
	// RenameNone means the title did not change since the last save.
	RenameNone RenameOutcome = iota
	// RenameSkipped means the note was never persisted; there is no old file.
	RenameSkipped
	// Renamed means the old file was moved to the new title.
	Renamed
	// RenameRace means the old file was already gone. This is expected
	// (first save under a new name, or a previous save relocated it).
	RenameRace
	// RenameFailed means the rename failed for another reason. The write
	// still proceeds.
	RenameFailed
)

func (o RenameOutcome) String() string {
	switch o {
	case RenameNone:
		return "none"
	case RenameSkipped:
		return "skipped"
	case Renamed:
		return "renamed"
	case RenameRace:
		return "race"
	case RenameFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PendingWrite is a save waiting for its debounce window to elapse.
type PendingWrite struct {
	NoteID                 string
	SnapshotContent        string
	SnapshotTitle          string
	PreviousPersistedTitle string
	ScheduledAt            time.Time
}

// SaveResult reports one completed save cycle.
type SaveResult struct {
	NoteID        string
	Title         string
	PreviousTitle string
	Rename        RenameOutcome
	RenameErr     error
	Checksum      string
	// Abandoned is set when the note disappeared before the save ran.
	Abandoned bool
	// Err wraps apperr.ErrSaveFailed when the write failed.
	Err      error
	Duration time.Duration
}

// OK reports whether the content reached the store.
func (r SaveResult) OK() bool {
	return r.Err == nil && !r.Abandoned
}
