package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/folio/manuscript"
	"github.com/hazyhaar/folio/objstore"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long: `Serve the folio_extract, folio_detect and folio_formats tools over the
Model Context Protocol. Stdio by default; --addr serves streamable HTTP.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().String("addr", "", "HTTP listen address (empty = stdio)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return fmt.Errorf("getting addr flag: %w", err)
	}

	objects, err := objstore.Open(cfg.Storage)
	if err != nil {
		return err
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "folio", Version: version}, nil)
	manuscript.New(objects, cfg.Manuscript()).RegisterMCP(srv)

	if addr == "" {
		return srv.Run(cmd.Context(), &mcp.StdioTransport{})
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-cmd.Context().Done()
		httpServer.Close()
	}()
	slog.Info("MCP server listening", "addr", addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
