package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrhatman/booksearch/internal/events"
	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/internal/store"
	"github.com/mrhatman/booksearch/internal/validate"
	"github.com/mrhatman/booksearch/pkg/config"
	"github.com/mrhatman/booksearch/pkg/kafka"
	"github.com/mrhatman/booksearch/pkg/resilience"
)

var (
	publishNoEvent bool
	snapshotsLimit int
	snapshotsJSON  bool
)

func init() {
	rootCmd.AddCommand(publishCmd, snapshotsCmd)
	publishCmd.Flags().BoolVar(&publishNoEvent, "no-event", false, "store the snapshot without announcing it on Kafka")
	snapshotsCmd.Flags().IntVar(&snapshotsLimit, "limit", 20, "maximum snapshots to list, 0 for all")
	snapshotsCmd.Flags().BoolVar(&snapshotsJSON, "json", false, "print snapshots as JSON")
}

var publishCmd = &cobra.Command{
	Use:   "publish <index>",
	Short: "Store an index as a snapshot and announce it to searchd",
	Long: `Validate an index, save it to the configured snapshot store and, when
Kafka is enabled, publish an index.published event so that running search
services load it.

Examples:
  indexctl publish book/searchindex.js --config configs/development.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSnapshots,
}

func openStore(cfg *config.Config) (store.SnapshotStore, error) {
	s, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("no snapshot store configured (set index.snapshotBackend)")
	}
	return s, nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	idx, err := searchindex.Load(args[0])
	if err != nil {
		return err
	}
	if err := validate.Validate(idx).Err(); err != nil {
		return fmt.Errorf("refusing to publish %s: %w", args[0], err)
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	info, err := s.Save(ctx, idx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored snapshot %s (%d documents, %d bytes)\n", info.Fingerprint, info.Documents, info.Size)

	if publishNoEvent || !cfg.Kafka.Enabled {
		return nil
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished)
	defer producer.Close()
	publisher := events.NewPublisher(producer)
	err = resilience.Retry(ctx, "publish-index-event", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
	}, func() error {
		return publisher.Published(ctx, info)
	})
	if err != nil {
		return fmt.Errorf("snapshot stored but announcement failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "announced on %s\n", cfg.Kafka.Topics.IndexPublished)
	return nil
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	list, err := s.List(cmd.Context(), snapshotsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if snapshotsJSON {
		return writeJSON(out, list)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINGERPRINT\tDOCS\tSIZE\tCREATED\tSOURCE")
	for _, info := range list {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			info.Fingerprint, info.Documents, info.Size, info.CreatedAt.Format(time.RFC3339), info.Source)
	}
	return w.Flush()
}
