package index

import (
	"log/slog"

	"github.com/starford/notetaker/internal/checksum"
	"github.com/starford/notetaker/internal/models"
)

// Sync brings the index up to date with notes:
//   - new/changed notes are upserted
//   - indexed notes missing from notes are deleted
func Sync(db NoteIndex, notes []models.Note, logger *slog.Logger) error {
	rows, err := db.AllRows()
	if err != nil {
		return err
	}

	live := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		live[n.ID] = struct{}{}

		cs := checksum.String(n.Content)
		if r, ok := rows[n.ID]; ok && r.Checksum == cs && r.Title == n.Title {
			continue
		}
		if err := IndexNote(db, n, cs); err != nil {
			logger.Warn("sync: index failed", slog.String("id", n.ID), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("id", n.ID))
		}
	}

	// Remove stale entries.
	for id := range rows {
		if _, ok := live[id]; !ok {
			if err := db.DeleteNote(id); err != nil {
				logger.Warn("sync: delete failed", slog.String("id", id), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("id", id))
			}
		}
	}

	return nil
}

// IndexNote upserts n with its links. An empty sum is computed from the
// content.
func IndexNote(db NoteIndex, n models.Note, sum string) error {
	if sum == "" {
		sum = checksum.String(n.Content)
	}
	row := NoteRow{
		ID:       n.ID,
		Title:    n.Title,
		Checksum: sum,
	}
	return db.UpsertNote(row, n.Content, n.Links)
}
