package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrhatman/booksearch/internal/builder"
	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/internal/source"
	"github.com/mrhatman/booksearch/internal/validate"
	"github.com/mrhatman/booksearch/pkg/config"
	"github.com/mrhatman/booksearch/pkg/postgres"
)

var (
	buildOutput     string
	buildBook       string
	buildPerField   bool
	buildKeepConfig bool
	sectionsBook    string
)

func init() {
	rootCmd.AddCommand(buildCmd, sectionsCmd)
	sectionsCmd.AddCommand(sectionsImportCmd)

	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "searchindex.js", "index file to write (.js or .json)")
	buildCmd.Flags().StringVar(&buildBook, "book", "", "read sections of this book from PostgreSQL instead of a file")
	buildCmd.Flags().BoolVar(&buildPerField, "per-field", false, "count terms per field instead of carrying counts across fields")
	buildCmd.Flags().BoolVar(&buildKeepConfig, "keep-config", false, "when rebuilding an index, reuse its fields, boosts and pipeline")

	sectionsImportCmd.Flags().StringVar(&sectionsBook, "book", "", "book the sections belong to (required)")
	_ = sectionsImportCmd.MarkFlagRequired("book")
}

var buildCmd = &cobra.Command{
	Use:   "build [source]",
	Short: "Generate a search index",
	Long: `Generate a search index from a section manifest (YAML or JSON), from the
stored documents of an existing index, or from the book_sections table.

Examples:
  # Build from a manifest
  indexctl build book.yaml -o book/searchindex.js

  # Regenerate an existing index with its own settings
  indexctl build book/searchindex.js --keep-config -o rebuilt.json

  # Build from PostgreSQL
  indexctl build --book rust-game-tutorial -o book/searchindex.js`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

var sectionsCmd = &cobra.Command{
	Use:   "sections",
	Short: "Manage the book_sections table",
}

var sectionsImportCmd = &cobra.Command{
	Use:   "import <manifest>",
	Short: "Replace a book's sections with the documents of a manifest or index",
	Args:  cobra.ExactArgs(1),
	RunE:  runSectionsImport,
}

func runBuild(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (buildBook == "") {
		return errors.New("give either a source file or --book")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	opts := builder.OptionsFromConfig(cfg.Build)
	var src source.Source
	if buildBook != "" {
		db, err := openSectionsDB(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		src = source.NewSections(db, buildBook)
	} else {
		src = source.Open(args[0])
		if buildKeepConfig {
			prev, err := searchindex.Load(args[0])
			if err != nil {
				return err
			}
			opts = builder.OptionsFromIndex(prev, cfg.Build.AccumulateFields)
		}
	}
	if buildPerField {
		opts.AccumulateFields = false
	}

	docs, err := src.Documents(ctx)
	if err != nil {
		return err
	}
	idx, err := builder.Build(docs, opts)
	if err != nil {
		return err
	}
	if err := validate.Validate(idx).Err(); err != nil {
		return fmt.Errorf("generated index is inconsistent: %w", err)
	}
	format := searchindex.FormatForPath(buildOutput)
	if err := searchindex.WriteFile(buildOutput, idx, format); err != nil {
		return err
	}
	fp, _ := searchindex.Fingerprint(idx)
	slog.Info("index written", "path", buildOutput, "documents", idx.DocCount(), "fingerprint", fp)
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d documents, fingerprint %s\n", buildOutput, idx.DocCount(), fp)
	return nil
}

func runSectionsImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	docs, err := source.Open(args[0]).Documents(ctx)
	if err != nil {
		return err
	}
	db, err := openSectionsDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := source.NewSections(db, sectionsBook).Replace(ctx, docs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d sections into book %q\n", len(docs), sectionsBook)
	return nil
}

func openSectionsDB(ctx context.Context, cfg config.PostgresConfig) (*postgres.Client, error) {
	db, err := postgres.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, source.SectionsSchema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
