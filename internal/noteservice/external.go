package noteservice

import (
	"log/slog"

	"github.com/starford/notetaker/internal/events"
	"github.com/starford/notetaker/internal/index"
	"github.com/starford/notetaker/internal/models"
)

// ExternalOutcome names what HandleExternal did with a change.
type ExternalOutcome string

const (
	ExternalIgnored  ExternalOutcome = "ignored"
	ExternalOwnWrite ExternalOutcome = "own-write"
	ExternalBusy     ExternalOutcome = "busy"
	ExternalImported ExternalOutcome = "imported"
	ExternalAdopted  ExternalOutcome = "adopted"
	ExternalDropped  ExternalOutcome = "dropped"
)

// HandleExternal applies a change another program made in the notes
// directory. Local state wins: notes with a pending or in-flight save are
// left alone and the next save overwrites the file.
func (s *Service) HandleExternal(ch index.Change) ExternalOutcome {
	var out ExternalOutcome
	switch ch.Kind {
	case index.Written:
		out = s.externalWrite(ch)
	case index.Removed:
		out = s.externalRemove(ch)
	default:
		out = ExternalIgnored
	}
	s.logger.Debug("external: handled",
		slog.String("name", ch.Name),
		slog.String("kind", string(ch.Kind)),
		slog.String("outcome", string(out)))
	return out
}

func (s *Service) externalWrite(ch index.Change) ExternalOutcome {
	id, owned := s.coord.Owner(ch.Title)
	if !owned {
		if _, ok := s.repo.FindByTitle(ch.Title); ok {
			// A note holds the title but has not saved under it yet.
			return ExternalBusy
		}
		n, err := s.repo.Insert(models.Note{ID: ch.Title, Title: ch.Title, Content: ch.Content})
		if err != nil {
			s.logger.Warn("external: import failed", slog.String("name", ch.Name), slog.String("error", err.Error()))
			return ExternalIgnored
		}
		s.coord.MarkPersisted(n.ID, n.Title, ch.Checksum)
		s.graph.Apply(n)
		s.indexNote(n, ch.Checksum)
		s.publishNote(events.NoteCreated, n, map[string]string{"source": "external"})
		return ExternalImported
	}

	if sum, _ := s.coord.Checksum(id); sum == ch.Checksum {
		return ExternalOwnWrite
	}
	cur, ok := s.repo.Find(id)
	if !ok || cur.Title != ch.Title || s.coord.Busy(id) {
		return ExternalBusy
	}
	// A local edit after the snapshot wins; it has scheduled its own save.
	if !s.repo.SwapContent(cur, ch.Content) {
		return ExternalBusy
	}
	s.coord.MarkPersisted(id, ch.Title, ch.Checksum)
	n, _ := s.repo.Find(id)
	s.graph.Apply(n)
	s.indexNote(n, ch.Checksum)
	s.publishNote(events.NoteUpdated, n, map[string]string{"source": "external"})
	return ExternalAdopted
}

func (s *Service) externalRemove(ch index.Change) ExternalOutcome {
	id, owned := s.coord.Owner(ch.Title)
	if !owned {
		return ExternalIgnored
	}
	n, ok := s.repo.Find(id)
	if !ok || n.Title != ch.Title || s.coord.Busy(id) {
		return ExternalBusy
	}
	if !s.repo.DeleteIfUnchanged(n) {
		return ExternalBusy
	}
	s.graph.Remove(id)
	s.coord.Forget(id)
	s.clearSelected(id)
	if s.db != nil {
		if err := s.db.DeleteNote(id); err != nil {
			s.logger.Warn("external: index delete failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	s.publishNote(events.NoteDeleted, n, map[string]string{"source": "external"})
	return ExternalDropped
}

func (s *Service) indexNote(n models.Note, sum string) {
	if s.db == nil {
		return
	}
	if err := index.IndexNote(s.db, n, sum); err != nil {
		s.logger.Warn("index: upsert failed", slog.String("id", n.ID), slog.String("error", err.Error()))
	}
}
