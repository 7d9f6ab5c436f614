// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Marginalia tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/capture"
	"github.com/starford/marginalia/internal/marginalia"
)

const syntaxURI = "marginalia://syntax"

// Server wraps the MCP server with Marginalia tools.
type Server struct {
	mcp *server.MCPServer
	svc *marginalia.Service
}

// New creates a new MCP server with all Marginalia tools registered.
func New(svc *marginalia.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Marginalia",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_annotations",
		mcp.WithDescription("Full-text search through margin annotations."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchAnnotations)

	s.mcp.AddTool(mcp.NewTool("list_flashcards",
		mcp.WithDescription("List flashcard annotations that carry a block ID, with their review state."),
	), s.listFlashcards)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("List the annotations that link to the given annotation."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Block ID or document-line key (e.g. notes/a.md-3)")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("stitch_annotations",
		mcp.WithDescription("Append a link to every target into every source annotation. "+
			"Batches of more than one link need confirm=true."),
		mcp.WithString("sources", mcp.Required(), mcp.Description("Comma-separated source keys")),
		mcp.WithString("targets", mcp.Required(), mcp.Description("Comma-separated target keys")),
		mcp.WithBoolean("confirm", mcp.Description("Confirm a batch larger than one link")),
	), s.stitchAnnotations)

	s.mcp.AddTool(mcp.NewTool("grade_card",
		mcp.WithDescription("Record a review grade for a flashcard."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Block ID of the flashcard")),
		mcp.WithString("grade", mcp.Required(), mcp.Description("hard, good or easy")),
	), s.gradeCard)

	s.mcp.AddTool(mcp.NewTool("due_cards",
		mcp.WithDescription("List flashcards due for review, most overdue first."),
	), s.dueCards)

	s.mcp.AddTool(mcp.NewTool("capture_annotation",
		mcp.WithDescription("Append a new margin annotation to a document (the inbox by default). "+
			"Read marginalia://syntax for the annotation format."),
		mcp.WithString("note", mcp.Required(), mcp.Description("Annotation text")),
		mcp.WithString("context", mcp.Description("Text placed before the annotation on the same line")),
		mcp.WithString("destination", mcp.Description("Destination document name (without .md)")),
	), s.captureAnnotation)

	s.mcp.AddTool(mcp.NewTool("upload_asset",
		mcp.WithDescription("Store an image (data URI or http(s) URL) in the attachments folder "+
			"and capture an annotation embedding it."),
		mcp.WithString("url", mcp.Required(), mcp.Description("data:image/...;base64,... URI or http(s) URL")),
		mcp.WithString("filename", mcp.Description("Optional file name; derived from the URL when empty")),
		mcp.WithString("destination", mcp.Description("Destination document name (without .md)")),
	), s.uploadAsset)

	s.mcp.AddResource(
		mcp.NewResource(syntaxURI, "Annotation Syntax",
			mcp.WithResourceDescription("How margin annotations, block IDs, links and flashcards are written."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrConfirmationRequired) {
		return mcp.NewToolResultError("confirmation required: call again with confirm=true")
	}
	return mcp.NewToolResultError(err.Error())
}

func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func (s *Server) searchAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, int(req.GetFloat("limit", 20)))
	if err != nil {
		return toolError(err), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no annotations found"), nil
	}
	return jsonResult(results)
}

func (s *Server) listFlashcards(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cards, err := s.svc.Flashcards(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(cards)
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	back, err := s.svc.Backlinks(ctx, key)
	if err != nil {
		return toolError(err), nil
	}
	if len(back) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	lines := make([]string, len(back))
	for i, a := range back {
		lines[i] = fmt.Sprintf("%s:%d %s", a.Document, a.Line+1, a.CleanText)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) stitchAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sources, err := req.RequireString("sources")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	targets, err := req.RequireString("targets")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.svc.Stitch(ctx, splitKeys(sources), splitKeys(targets), req.GetBool("confirm", false))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(report)
}

func (s *Server) gradeCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	grade, err := req.RequireString("grade")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.svc.Grade(ctx, id, grade)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"identity": id, "state": st})
}

func (s *Server) dueCards(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cards, err := s.svc.Due(ctx)
	if err != nil {
		return toolError(err), nil
	}
	if len(cards) == 0 {
		return mcp.NewToolResultText("nothing due"), nil
	}
	return jsonResult(cards)
}

func (s *Server) captureAnnotation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	note, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Capture(ctx, capture.Request{
		Context:     req.GetString("context", ""),
		Note:        note,
		Destination: req.GetString("destination", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res)
}

func (s *Server) readSyntaxResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      syntaxURI,
			MIMEType: "text/markdown",
			Text:     AnnotationSyntax,
		},
	}, nil
}
