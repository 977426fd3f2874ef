// Package linkgraph resolves wiki links between notes and answers outgoing,
// backlink and autocomplete queries.
package linkgraph

import (
	"sync"

	"github.com/starford/notetaker/internal/models"
	"github.com/starford/notetaker/internal/parser"
	"github.com/starford/notetaker/internal/search"
)

// Graph mirrors the titles and parsed links of every note in insertion
// order. Resolution happens at query time, so a rename or a new note
// immediately changes what existing links point at.
type Graph struct {
	mu    sync.RWMutex
	order []string
	nodes map[string]*node
}

type node struct {
	title string
	slug  string
	links []models.LinkRef
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// Rebuild replaces the graph with notes, keeping their order.
func (g *Graph) Rebuild(notes []models.Note) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.order = g.order[:0]
	g.nodes = make(map[string]*node, len(notes))
	for _, n := range notes {
		g.applyLocked(n)
	}
}

// Apply inserts or refreshes n. A known note keeps its position.
func (g *Graph) Apply(n models.Note) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.applyLocked(n)
}

func (g *Graph) applyLocked(n models.Note) {
	links := n.Links
	if links == nil && n.Content != "" {
		links = parser.Parse(n.Content, n.ID)
	}
	nd, ok := g.nodes[n.ID]
	if !ok {
		nd = &node{}
		g.nodes[n.ID] = nd
		g.order = append(g.order, n.ID)
	}
	nd.title = n.Title
	nd.slug = parser.Slug(n.Title)
	nd.links = append([]models.LinkRef(nil), links...)
}

// Remove drops id. Links pointing at it become dangling.
func (g *Graph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return
	}
	delete(g.nodes, id)
	for i, o := range g.order {
		if o == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of notes in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Resolve maps a link target to a note id. An exact title match wins;
// otherwise the first note in insertion order with the same slug.
func (g *Graph) Resolve(target string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveLocked(target)
}

func (g *Graph) resolveLocked(target string) (string, bool) {
	if target == "" {
		return "", false
	}
	for _, id := range g.order {
		if g.nodes[id].title == target {
			return id, true
		}
	}
	slug := parser.Slug(target)
	if slug == "" {
		return "", false
	}
	for _, id := range g.order {
		if g.nodes[id].slug == slug {
			return id, true
		}
	}
	return "", false
}

// Links returns the outgoing links of id with targets resolved.
func (g *Graph) Links(id string) []models.LinkRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nd, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return g.resolvedLocked(nd.links)
}

func (g *Graph) resolvedLocked(links []models.LinkRef) []models.LinkRef {
	if len(links) == 0 {
		return nil
	}
	out := make([]models.LinkRef, len(links))
	for i, l := range links {
		l.TargetID, _ = g.resolveLocked(l.TargetTitleRaw)
		out[i] = l
	}
	return out
}

// Backlinks returns every link in other notes or in id itself that
// resolves to id, in note insertion order.
func (g *Graph) Backlinks(id string) []models.LinkRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[id]; !ok {
		return nil
	}
	var out []models.LinkRef
	for _, src := range g.order {
		for _, l := range g.nodes[src].links {
			if target, ok := g.resolveLocked(l.TargetTitleRaw); ok && target == id {
				l.TargetID = target
				out = append(out, l)
			}
		}
	}
	return out
}

// Dangling returns every link whose target resolves to no note.
func (g *Graph) Dangling() []models.LinkRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []models.LinkRef
	for _, src := range g.order {
		for _, l := range g.nodes[src].links {
			if _, ok := g.resolveLocked(l.TargetTitleRaw); !ok {
				out = append(out, l)
			}
		}
	}
	return out
}

// Candidates returns autocomplete suggestions for query as title-only notes.
func (g *Graph) Candidates(query string) []models.Note {
	g.mu.RLock()
	notes := make([]models.Note, 0, len(g.order))
	for _, id := range g.order {
		notes = append(notes, models.Note{ID: id, Title: g.nodes[id].title})
	}
	g.mu.RUnlock()
	return search.Candidates(notes, query)
}
