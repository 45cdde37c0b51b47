package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/folio/kit"
	"github.com/hazyhaar/folio/manuscript"
	"github.com/hazyhaar/folio/objstore"
)

var extractCmd = &cobra.Command{
	Use:   "extract FILE",
	Short: "Extract a manuscript and print the result as JSON",
	Long: `Extract an EPUB or DOCX file. Images are written to the configured
object store under {image_folder}/{namespace}/. With --dry-run they are kept
in memory and nothing is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

var detectCmd = &cobra.Command{
	Use:   "detect FILE",
	Short: "Print the manuscript format of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), manuscript.Detect(data))
		return nil
	},
}

func init() {
	extractCmd.Flags().StringP("namespace", "n", "", "image namespace, usually the book id (required)")
	extractCmd.Flags().Bool("dry-run", false, "keep images in memory instead of the object store")
	extractCmd.MarkFlagRequired("namespace")
	rootCmd.AddCommand(extractCmd, detectCmd)
}

const dryRunURL = "http://dry-run.invalid"

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	namespace, _ := cmd.Flags().GetString("namespace")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	storage := cfg.Storage
	if dryRun {
		// An http base so the sanitizer keeps the rewritten references.
		storage = objstore.Config{Driver: "memory", PublicURL: dryRunURL}
	}
	objects, err := objstore.Open(storage)
	if err != nil {
		return err
	}

	info, err := os.Stat(args[0])
	if err != nil {
		return err
	}
	if info.Size() > cfg.MaxFileBytes() {
		return fmt.Errorf("%w: %s is %d bytes", manuscript.ErrTooLarge, args[0], info.Size())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	ctx := kit.WithTransport(cmd.Context(), "cli")
	content, err := manuscript.New(objects, cfg.Manuscript()).Extract(ctx, data, namespace)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(content)
}
