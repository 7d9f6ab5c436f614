package mcpserver

import (
	"context"
	"path"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/marginalia/internal/capture"
)

type uploadResult struct {
	SavedPath  string `json:"savedPath"`
	Document   string `json:"document"`
	Line       int    `json:"line"`
	Annotation string `json:"annotation"`
}

func (s *Server) uploadAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, ext, err := capture.LoadImage(ctx, rawURL)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	filename := req.GetString("filename", "")
	if filename == "" {
		filename = capture.FilenameFromURL(rawURL, ext)
	}

	res, err := s.svc.CaptureImage(ctx, capture.ImageRequest{
		Filename:    filename,
		Data:        data,
		Destination: req.GetString("destination", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(uploadResult{
		SavedPath:  res.Image,
		Document:   res.Document,
		Line:       res.Line,
		Annotation: "%%> img:[[" + path.Base(res.Image) + "]]%%",
	})
}
