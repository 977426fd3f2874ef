// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes notetaker tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notetaker/internal/apperr"
	"github.com/starford/notetaker/internal/models"
	"github.com/starford/notetaker/internal/noteservice"
)

// FormatURI is the resource URI of the note format contract.
const FormatURI = "notetaker://note-format"

// Server wraps the MCP server with notetaker tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all notetaker tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"notetaker",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	noteArg := mcp.WithString("note", mcp.Required(), mcp.Description("Note id or exact title"))

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes, newest first. With a query, list only notes whose title contains it."),
		mcp.WithString("query", mcp.Description("Optional case-insensitive title filter")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("filter_notes",
		mcp.WithDescription("Return notes whose title contains the query. An empty query returns nothing."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Case-insensitive title substring")),
	), s.filterNotes)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Search note titles and content. Results are not ranked."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note with its outgoing links and backlinks."),
		noteArg,
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note. The title becomes the file name, so it must follow "+
			"the note format contract (see get_note_contract). Without a title the note is "+
			"titled with the current timestamp."),
		mcp.WithString("title", mcp.Description("Title of the new note")),
		mcp.WithString("content", mcp.Description("Plain text content; use [[Title]] to link notes")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace the content of a note. The file is saved after a short quiet period."),
		noteArg,
		mcp.WithString("content", mcp.Required(), mcp.Description("New plain text content")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("rename_note",
		mcp.WithDescription("Change the title of a note. Its file is renamed on the next save."),
		noteArg,
		mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
	), s.renameNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note and its file."),
		noteArg,
	), s.deleteNote)

	s.mcp.AddTool(mcp.NewTool("get_links",
		mcp.WithDescription("List the outgoing links and backlinks of a note. Unresolved links have no target_id."),
		noteArg,
	), s.getLinks)

	s.mcp.AddTool(mcp.NewTool("resolve_link",
		mcp.WithDescription("Find the note a [[link]] target points at."),
		mcp.WithString("target", mcp.Required(), mcp.Description("Link target as written between the brackets")),
	), s.resolveLink)

	s.mcp.AddTool(mcp.NewTool("autocomplete",
		mcp.WithDescription("Given text and a cursor inside an open [[ span, return link suggestions."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Full note text")),
		mcp.WithNumber("cursor", mcp.Description("Cursor position in characters (default: end of text)")),
	), s.autocomplete)

	s.mcp.AddTool(mcp.NewTool("complete_link",
		mcp.WithDescription("Replace the open [[ span before the cursor with [[title]]."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Full note text")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Title to insert")),
		mcp.WithNumber("cursor", mcp.Description("Cursor position in characters (default: end of text)")),
	), s.completeLink)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the notetaker note format contract. "+
			"Call this before creating or renaming notes."),
	), s.getNoteContract)

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource(FormatURI, "Note Format Contract",
			mcp.WithResourceDescription("How notes are named, stored and linked."),
			mcp.WithMIMEType("text/plain"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// Listen serves MCP over in and out until ctx is cancelled or in is closed.
// Transport errors are written to logger.
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: listen: %w", err)
	}
	return nil
}

// lookup finds a note by id first, then by exact title.
func (s *Server) lookup(ctx context.Context, ref string) (*noteservice.NoteDetail, error) {
	n, err := s.svc.Lookup(ctx, ref)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("note not found: %s", ref)
	}
	return n, err
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidTitle):
		return mcp.NewToolResultError("invalid title: " + err.Error() + " (see " + FormatURI + ")"), nil
	case errors.Is(err, apperr.ErrTitleTaken):
		return mcp.NewToolResultError("title already in use: " + err.Error()), nil
	default:
		return mcp.NewToolResultError(err.Error()), nil
	}
}

func cursorArg(req mcp.CallToolRequest, text string) int {
	return req.GetInt("cursor", len([]rune(text)))
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.View(req.GetString("query", "")))
}

func (s *Server) filterNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Filter(query))
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.lookup(ctx, ref)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(n)
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := strings.TrimSpace(req.GetString("title", ""))
	content := req.GetString("content", "")

	var (
		n   models.Note
		err error
	)
	if title == "" {
		n, err = s.svc.Create(ctx)
		if err == nil && content != "" {
			n, err = s.svc.UpdateContent(ctx, n.ID, content)
		}
	} else {
		n, err = s.svc.CreateWithTitle(ctx, title, content)
	}
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s (id %s)", n.Title, n.ID)), nil
}

type noteItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.lookup(ctx, ref)
	if err != nil {
		return errorResult(err)
	}
	if _, err := s.svc.UpdateContent(ctx, n.ID, content); err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText("updated: " + n.Title), nil
}

func (s *Server) renameNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.lookup(ctx, ref)
	if err != nil {
		return errorResult(err)
	}
	renamed, err := s.svc.Rename(ctx, n.ID, title)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("renamed: %s -> %s", n.Title, renamed.Title)), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.lookup(ctx, ref)
	if err != nil {
		return errorResult(err)
	}
	if err := s.svc.Delete(ctx, n.ID); err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText("deleted: " + n.Title), nil
}

func (s *Server) getLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.lookup(ctx, ref)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{
		"links":     n.Links,
		"backlinks": n.Backlinks,
	})
}

func (s *Server) resolveLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Resolve(target)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unresolved: %s", target)), nil
	}
	return jsonResult(noteItem{ID: n.ID, Title: n.Title})
}

func (s *Server) autocomplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tr, cands, ok := s.svc.Autocomplete(text, cursorArg(req, text))
	if !ok {
		return mcp.NewToolResultText("no open [[ link before the cursor"), nil
	}
	return jsonResult(map[string]any{
		"query":      tr.Query,
		"start":      tr.Start,
		"end":        tr.End,
		"candidates": cands,
	})
}

func (s *Server) completeLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, cursor, ok := s.svc.Complete(text, cursorArg(req, text), title)
	if !ok {
		return mcp.NewToolResultError("no open [[ link before the cursor"), nil
	}
	return jsonResult(map[string]any{
		"text":   out,
		"cursor": cursor,
	})
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatURI,
			MIMEType: "text/plain",
			Text:     NoteFormatContract,
		},
	}, nil
}
