package manuscript

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/folio/kit"
)

// RegisterMCP registers the extraction tools on an MCP server.
func (e *Extractor) RegisterMCP(srv *mcp.Server) {
	e.registerExtractTool(srv)
	e.registerDetectTool(srv)
	e.registerFormatsTool(srv)
}

// readManuscript loads a local file, refusing anything over MaxFileSize
// before reading it.
func (e *Extractor) readManuscript(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > e.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, info.Size(), e.cfg.MaxFileSize)
	}
	return os.ReadFile(path)
}

// --- extract ---

type extractReq struct {
	Path      string `json:"path"`
	Namespace string `json:"namespace"`
}

func (e *Extractor) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "folio_extract",
		Description: "Extract an EPUB or DOCX manuscript into HTML, relocating its images to the object store.",
		InputSchema: kit.InputSchema(map[string]any{
			"path":      map[string]any{"type": "string", "description": "Manuscript file path"},
			"namespace": map[string]any{"type": "string", "description": "Asset namespace (e.g. a book id)"},
		}, []string{"path", "namespace"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*extractReq)
		data, err := e.readManuscript(r.Path)
		if err != nil {
			return nil, err
		}
		return e.Extract(ctx, data, r.Namespace)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r extractReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- detect ---

type detectReq struct {
	Path string `json:"path"`
}

func (e *Extractor) registerDetectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "folio_detect",
		Description: "Detect whether a file is an EPUB or DOCX container from its contents.",
		InputSchema: kit.InputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to inspect"},
		}, []string{"path"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*detectReq)
		data, err := e.readManuscript(r.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"format": string(Detect(data))}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r detectReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- formats ---

func (e *Extractor) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "folio_formats",
		Description: "List the manuscript formats folio accepts.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"formats": SupportedFormats()}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
