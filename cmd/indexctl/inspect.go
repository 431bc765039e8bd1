package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mrhatman/booksearch/internal/catalog"
	"github.com/mrhatman/booksearch/internal/searcher/executor"
	"github.com/mrhatman/booksearch/internal/searcher/parser"
	"github.com/mrhatman/booksearch/internal/searchindex"
	"github.com/mrhatman/booksearch/internal/validate"
)

var (
	outputJSON   bool
	queryLimit   int
	convertTo    string
	convertForce bool
)

func init() {
	rootCmd.AddCommand(validateCmd, verifyCmd, statsCmd, queryCmd, convertCmd)

	for _, cmd := range []*cobra.Command{validateCmd, verifyCmd, statsCmd, queryCmd} {
		cmd.Flags().BoolVar(&outputJSON, "json", false, "print results as JSON")
	}
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum results (default: the index's limit_results)")
	convertCmd.Flags().StringVar(&convertTo, "to", "", "target format: json or js (default: from the output extension)")
	convertCmd.Flags().BoolVar(&convertForce, "force", false, "overwrite the output file if it exists")
}

var validateCmd = &cobra.Command{
	Use:   "validate <index>",
	Short: "Check an index for internal consistency",
	Long: `Check that the document store, doc_urls and every trie posting of an
index agree, and that its configuration blocks hold usable values.

Examples:
  indexctl validate book/searchindex.js`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <index>",
	Short: "Rebuild an index from its stored documents and compare",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var statsCmd = &cobra.Command{
	Use:   "stats <index>",
	Short: "Summarise an index",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var queryCmd = &cobra.Command{
	Use:   "query <index> <query...>",
	Short: "Search an index the way the browser does",
	Long: `Search an index with its own pipeline, boosts and bool mode and print the
ranked results with teasers.

Examples:
  indexctl query book/searchindex.js snake
  indexctl query book/searchindex.js "snake AND tutorial" --limit 5`,
	Args: cobra.MinimumNArgs(2),
	RunE: runQuery,
}

var convertCmd = &cobra.Command{
	Use:   "convert <in> <out>",
	Short: "Convert between searchindex.json and searchindex.js",
	Args:  cobra.ExactArgs(2),
	RunE:  runConvert,
}

func runValidate(cmd *cobra.Command, args []string) error {
	idx, err := searchindex.Load(args[0])
	if err != nil {
		return err
	}
	report := validate.Validate(idx)
	out := cmd.OutOrStdout()
	if outputJSON {
		if err := writeJSON(out, report); err != nil {
			return err
		}
		return report.Err()
	}
	if !report.OK() {
		for _, p := range report.Problems {
			fmt.Fprintln(out, p)
		}
		return fmt.Errorf("%s: %d problem(s)", args[0], len(report.Problems))
	}
	fmt.Fprintf(out, "%s: ok (%d documents, %d tokens)\n", args[0], report.Documents, report.Tokens)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	idx, err := searchindex.Load(args[0])
	if err != nil {
		return err
	}
	v, err := validate.Verify(idx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if outputJSON {
		if err := writeJSON(out, v); err != nil {
			return err
		}
	} else if v.Verified {
		fmt.Fprintf(out, "%s: reproduced (%s)\n", args[0], v.Mode)
	} else {
		for mode, diff := range v.Differences {
			fmt.Fprintf(out, "%s: %s\n", mode, diff)
		}
	}
	if !v.Verified {
		return fmt.Errorf("%s: stored tries do not match a rebuild", args[0])
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	idx, err := searchindex.Load(args[0])
	if err != nil {
		return err
	}
	st := searchindex.ComputeStats(idx)
	out := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(out, st)
	}
	fmt.Fprintf(out, "documents: %d\nversion:   %s\nref:       %s\npipeline:  %s\n",
		st.Documents, st.Version, st.Ref, strings.Join(st.Pipeline, ", "))
	fmt.Fprintf(out, "results:   limit %d, teaser %d words\n\n", st.LimitResults, st.TeaserWordCount)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tBOOST\tTOKENS\tNODES\tPOSTINGS\tDEPTH")
	for _, f := range st.Fields {
		fmt.Fprintf(w, "%s\t%g\t%d\t%d\t%d\t%d\n", f.Field, f.Boost, f.Tokens, f.Nodes, f.Postings, f.MaxDepth)
	}
	return w.Flush()
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cat := catalog.New(catalog.Options{Path: args[0], Origin: catalog.OriginFile})
	entry, err := cat.LoadFile("")
	if err != nil {
		return err
	}
	exec := executor.New(cfg.Search)
	plan := parser.Parse(strings.Join(args[1:], " "), entry.Pipeline)
	res, err := exec.Execute(context.Background(), entry, plan, exec.Limit(entry, queryLimit))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return writeJSON(out, res)
	}
	fmt.Fprintf(out, "%d result(s) for %q (%s)\n", res.TotalHits, res.Query, res.Bool)
	for i, hit := range res.Hits {
		fmt.Fprintf(out, "\n%d. %s  [%s]  score %.4f\n", i+1, hit.Title, hit.URL, hit.Score)
		if hit.Breadcrumbs != "" {
			fmt.Fprintf(out, "   %s\n", hit.Breadcrumbs)
		}
		if hit.Teaser != "" {
			fmt.Fprintf(out, "   %s\n", hit.Teaser)
		}
	}
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]
	idx, err := searchindex.Load(in)
	if err != nil {
		return err
	}
	format := searchindex.FormatForPath(out)
	if convertTo != "" {
		if format, err = searchindex.ParseFormat(convertTo); err != nil {
			return err
		}
	}
	if !convertForce && fileExists(out) {
		return fmt.Errorf("%s exists (use --force to overwrite)", out)
	}
	if err := searchindex.WriteFile(out, idx, format); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, format)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
