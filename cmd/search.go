package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/shelf/core/catalog"
	"github.com/adalundhe/shelf/core/library"
	"github.com/adalundhe/shelf/core/ranking"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// SearchDefaultLimit is the default number of results.
	SearchDefaultLimit = 10

	// SearchMaxLimit is the maximum number of results.
	SearchMaxLimit = 100
)

// =============================================================================
// Search Command Flags
// =============================================================================

var (
	searchLimit      int
	searchCandidates int
	searchJSON       bool
	searchExplain    bool
	searchLexical    bool
)

// searchCmd represents the search command.
var searchCmd = &cobra.Command{
	Use:   "search <terms...>",
	Short: "Search the library",
	Long: `Rank resources for the given terms. Lexical candidates are re-scored with
citation centrality, recency and importance.

With --lexical only the BM25 text score is used, with no graph, recency or
importance signals.

The index only reflects the catalog as of the last "shelf reindex".

Examples:
  shelf search graph databases
  shelf search --limit 5 --explain pagerank
  shelf search --lexical "cast iron"
  shelf search --json "graph traversal" | jq '.results'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", SearchDefaultLimit, "Maximum number of results")
	searchCmd.Flags().IntVarP(&searchCandidates, "candidates", "c", 0, "Lexical candidates to re-rank (default: limit x ranker.candidate_multiplier)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output results as JSON")
	searchCmd.Flags().BoolVarP(&searchExplain, "explain", "e", false, "Show the per-signal breakdown")
	searchCmd.Flags().BoolVar(&searchLexical, "lexical", false, "Rank by text relevance only")
}

// =============================================================================
// Search Execution
// =============================================================================

func runSearch(cmd *cobra.Command, args []string) error {
	req := buildSearchRequest(args)

	return withReader(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		results, err := runQuery(ctx, lib, req)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		hits := make([]searchHit, 0, len(results))
		for _, r := range results {
			entry, err := lib.LookupByID(ctx, r.Resource)
			if err != nil {
				return err
			}
			hits = append(hits, searchHit{Result: r, Entry: entry})
		}

		return outputSearchResults(cmd.OutOrStdout(), strings.Join(req.Terms, " "), hits)
	})
}

// runQuery ranks with every signal, or with BM25 alone under --lexical.
func runQuery(ctx context.Context, lib *library.Library, req ranking.Request) ([]ranking.Result, error) {
	if !searchLexical {
		return lib.HybridQuery(ctx, req)
	}
	hits := lib.SearchText(req.Terms, req.Limit)
	results := make([]ranking.Result, len(hits))
	for i, h := range hits {
		results[i] = ranking.Result{Resource: h.Resource, Score: h.Score}
	}
	return results, nil
}

// buildSearchRequest creates a ranking request from command flags.
func buildSearchRequest(args []string) ranking.Request {
	var terms []string
	for _, arg := range args {
		terms = append(terms, strings.Fields(arg)...)
	}

	limit := searchLimit
	if limit <= 0 {
		limit = SearchDefaultLimit
	}
	if limit > SearchMaxLimit {
		limit = SearchMaxLimit
	}

	return ranking.Request{
		Terms:          terms,
		Limit:          limit,
		CandidateLimit: searchCandidates,
	}
}

// =============================================================================
// Output Formatting
// =============================================================================

type searchHit struct {
	ranking.Result
	Entry catalog.Entry `json:"entry"`
}

// searchOutput is the JSON output structure.
type searchOutput struct {
	Query   string      `json:"query"`
	Results []searchHit `json:"results"`
}

func outputSearchResults(w io.Writer, query string, hits []searchHit) error {
	if searchJSON {
		return writeJSON(w, searchOutput{Query: query, Results: hits})
	}
	outputRichResults(w, query, hits)
	return nil
}

func outputRichResults(w io.Writer, query string, hits []searchHit) {
	fmt.Fprintf(w, "%s\n", paint(w, colorBold+colorCyan, "Search Results"))
	fmt.Fprintf(w, "%s %s\n", paint(w, colorGray, "Query:"), query)
	fmt.Fprintln(w)

	if len(hits) == 0 {
		fmt.Fprintln(w, paint(w, colorYellow, "No results found."))
		return
	}

	for i, hit := range hits {
		outputRichHit(w, i+1, hit)
	}
}

func outputRichHit(w io.Writer, index int, hit searchHit) {
	title := hit.Entry.Fields.Title
	if title == "" {
		title = hit.Entry.CanonicalURL
	}

	fmt.Fprintf(w, "%s %s\n", paint(w, colorYellow, fmt.Sprintf("%d.", index)), paint(w, colorBold, title))
	fmt.Fprintf(w, "   %s %d  %s %s  %s %.4f\n",
		paint(w, colorGray, "ID:"), hit.Resource,
		paint(w, colorGray, "Type:"), hit.Entry.Type,
		paint(w, colorGray, "Score:"), hit.Score)
	fmt.Fprintf(w, "   %s\n", paint(w, colorGray, hit.Entry.CanonicalURL))

	if searchExplain {
		for _, c := range hit.Breakdown.Contributions {
			fmt.Fprintf(w, "   %-10s raw %.4f x %.2f = %.4f\n", c.Signal, c.RawValue, c.Weight, c.Contribution)
		}
	} else if snippet := extractSnippet(hit.Entry.Fields.Summary, 150); snippet != "" {
		fmt.Fprintf(w, "   %s\n", snippet)
	}

	fmt.Fprintln(w)
}

// extractSnippet extracts a content snippet of maxLen characters.
func extractSnippet(content string, maxLen int) string {
	if content == "" {
		return ""
	}

	content = strings.Join(strings.Fields(content), " ")

	if len(content) <= maxLen {
		return content
	}

	// Find a good break point
	snippet := content[:maxLen]
	lastSpace := strings.LastIndex(snippet, " ")
	if lastSpace > maxLen/2 {
		snippet = snippet[:lastSpace]
	}

	return snippet + "..."
}
