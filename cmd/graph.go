package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/shelf/core/library"
)

// =============================================================================
// Citation Commands
// =============================================================================

var citeContext string

var citeCmd = &cobra.Command{
	Use:   "cite <source> <target>",
	Short: "Record that one resource cites another",
	Long: `Record a citation edge. Both resources are given by id or URL.

Examples:
  shelf cite 12 7
  shelf cite https://example.com/survey https://example.com/paper --context "see section 2"`,
	Args: cobra.ExactArgs(2),
	RunE: runCite,
}

var unciteCmd = &cobra.Command{
	Use:   "uncite <edge-id>",
	Short: "Retract a citation edge",
	Args:  cobra.ExactArgs(1),
	RunE:  runUncite,
}

// =============================================================================
// Analytics Commands
// =============================================================================

var (
	rankTop   int
	rankHITS  bool
	rankJSON  bool
	pathDepth int
	relJSON   bool
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "List resources by citation centrality",
	Long: `List the resources with the highest PageRank over the citation graph.
With --hits, hub and authority scores are shown as well.`,
	Args: cobra.NoArgs,
	RunE: runRank,
}

var relatedCmd = &cobra.Command{
	Use:   "related <id|url>",
	Short: "Show resources that share references or citers",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelated,
}

var pathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Show the shortest citation chain between two resources",
	Args:  cobra.ExactArgs(2),
	RunE:  runPath,
}

func init() {
	rootCmd.AddCommand(citeCmd)
	rootCmd.AddCommand(unciteCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(relatedCmd)
	rootCmd.AddCommand(pathCmd)

	citeCmd.Flags().StringVar(&citeContext, "context", "", "Where or why the citation occurs")

	rankCmd.Flags().IntVarP(&rankTop, "top", "n", 10, "Number of resources to list")
	rankCmd.Flags().BoolVar(&rankHITS, "hits", false, "Include hub and authority scores")
	rankCmd.Flags().BoolVar(&rankJSON, "json", false, "Output as JSON")

	relatedCmd.Flags().BoolVar(&relJSON, "json", false, "Output as JSON")

	pathCmd.Flags().IntVarP(&pathDepth, "depth", "d", 6, "Maximum number of hops")
}

func runCite(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		source, err := lookup(ctx, lib, args[0])
		if err != nil {
			return err
		}
		target, err := lookup(ctx, lib, args[1])
		if err != nil {
			return err
		}

		id, err := lib.AssertCitation(ctx, source.ID, target.ID, citeContext)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d cites %d (edge %s)\n", source.ID, target.ID, id)
		return nil
	})
}

func runUncite(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		edge, err := lib.Citation(ctx, args[0])
		if err != nil {
			return err
		}
		if err := lib.RetractCitation(ctx, edge.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "retracted edge %s (%d cites %d)\n", edge.ID, edge.Source, edge.Target)
		return nil
	})
}

// rankedOutput is one row of the rank command.
type rankedOutput struct {
	Resource  int64    `json:"resource"`
	URL       string   `json:"url"`
	PageRank  float64  `json:"pagerank"`
	CitedBy   int      `json:"cited_by"`
	Cites     int      `json:"cites"`
	Hub       *float64 `json:"hub,omitempty"`
	Authority *float64 `json:"authority,omitempty"`
}

func runRank(cmd *cobra.Command, args []string) error {
	return withReader(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		pr, err := lib.PageRank(ctx)
		if err != nil {
			return err
		}

		ids := make([]int64, 0, len(pr.Scores))
		for id := range pr.Scores {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			if pr.Scores[ids[i]] != pr.Scores[ids[j]] {
				return pr.Scores[ids[i]] > pr.Scores[ids[j]]
			}
			return ids[i] < ids[j]
		})
		if rankTop > 0 && len(ids) > rankTop {
			ids = ids[:rankTop]
		}

		degrees, err := lib.Degrees(ctx, ids...)
		if err != nil {
			return err
		}

		rows := make([]rankedOutput, 0, len(ids))
		for _, id := range ids {
			entry, err := lib.LookupByID(ctx, id)
			if err != nil {
				return err
			}
			rows = append(rows, rankedOutput{
				Resource: id,
				URL:      entry.CanonicalURL,
				PageRank: pr.Scores[id],
				CitedBy:  degrees[id].CitedBy,
				Cites:    degrees[id].Cites,
			})
		}

		if rankHITS {
			hits, err := lib.HITS(ctx)
			if err != nil {
				return err
			}
			for i := range rows {
				ha := hits[rows[i].Resource]
				rows[i].Hub, rows[i].Authority = &ha.Hub, &ha.Authority
			}
		}

		w := cmd.OutOrStdout()
		if rankJSON {
			return writeJSON(w, rows)
		}
		outputRanked(w, rows)
		return nil
	})
}

func outputRanked(w io.Writer, rows []rankedOutput) {
	if len(rows) == 0 {
		fmt.Fprintln(w, paint(w, colorYellow, "No citations recorded."))
		return
	}
	for i, r := range rows {
		line := fmt.Sprintf("%3d. %-6d %.6f  in %-3d out %-3d", i+1, r.Resource, r.PageRank, r.CitedBy, r.Cites)
		if r.Hub != nil {
			line += fmt.Sprintf("  hub %.4f  auth %.4f", *r.Hub, *r.Authority)
		}
		fmt.Fprintf(w, "%s  %s\n", line, paint(w, colorGray, r.URL))
	}
}

func runRelated(cmd *cobra.Command, args []string) error {
	return withReader(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		entry, err := lookup(ctx, lib, args[0])
		if err != nil {
			return err
		}
		related, err := lib.Related(ctx, entry.ID)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if relJSON {
			return writeJSON(w, related)
		}
		outputCounts(w, "Shared references", related.Coupling)
		outputCounts(w, "Cited together", related.CoCitation)
		return nil
	})
}

// outputCounts prints counts highest first, ties by id.
func outputCounts(w io.Writer, heading string, counts map[int64]int) {
	fmt.Fprintln(w, paint(w, colorBold, heading))
	if len(counts) == 0 {
		fmt.Fprintln(w, "   none")
		return
	}

	ids := make([]int64, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	for _, id := range ids {
		fmt.Fprintf(w, "   %-6d %d\n", id, counts[id])
	}
}

func runPath(cmd *cobra.Command, args []string) error {
	return withReader(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		from, err := lookup(ctx, lib, args[0])
		if err != nil {
			return err
		}
		to, err := lookup(ctx, lib, args[1])
		if err != nil {
			return err
		}

		path, err := lib.Path(ctx, from.ID, to.ID, pathDepth)
		if err != nil {
			return err
		}

		hops := make([]string, len(path))
		for i, id := range path {
			hops[i] = strconv.FormatInt(id, 10)
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(hops, " -> "))
		return nil
	})
}
