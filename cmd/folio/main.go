// Command folio serves the manuscript upload API and exposes the extractor
// on the command line and over MCP.
//
//	folio serve --config folio.yaml
//	folio extract book.epub --namespace book1
//	folio detect manuscript.docx
//	folio mcp
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/folio/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "folio",
	Short:         "Manuscript extraction service",
	Long:          `folio turns EPUB and DOCX manuscripts into HTML with their images moved to an object store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("folio version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the YAML config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "folio:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config and installs the JSON logger at the configured
// level. Logs go to stderr so command output on stdout stays parseable.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("getting config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	lvl, _ := cfg.Level()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return cfg, nil
}
