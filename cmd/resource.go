package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/shelf/core/catalog"
	"github.com/adalundhe/shelf/core/extract"
	"github.com/adalundhe/shelf/core/library"
)

// =============================================================================
// Add Command
// =============================================================================

var (
	addType       string
	addTitle      string
	addSummary    string
	addBody       string
	addFile       string
	addMediaType  string
	addImportance float64
)

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Register a resource",
	Long: `Register a resource by URL, or update it if the URL is already known.

Captured content can be attached with --file. When the file is HTML and no
text fields are given, the title, description and body text are extracted
from it.

Examples:
  shelf add https://example.com/paper --type paper --title "Graph databases"
  shelf add https://example.com/post --file post.html`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

// =============================================================================
// Show Command
// =============================================================================

var (
	showJSON   bool
	showWindow time.Duration
)

var showCmd = &cobra.Command{
	Use:   "show <id|url>",
	Short: "Show a resource",
	Long: `Show a resource with its citation counts and how many citations per day
it received over the trailing --window.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(showCmd)

	addCmd.Flags().StringVarP(&addType, "type", "t", "", "Resource type (page, paper, repository, book, video, dataset, image)")
	addCmd.Flags().StringVar(&addTitle, "title", "", "Title")
	addCmd.Flags().StringVar(&addSummary, "summary", "", "Summary")
	addCmd.Flags().StringVar(&addBody, "body", "", "Body text")
	addCmd.Flags().StringVarP(&addFile, "file", "f", "", "Captured content to store")
	addCmd.Flags().StringVar(&addMediaType, "media-type", "", "Media type of --file (sniffed when empty)")
	addCmd.Flags().Float64Var(&addImportance, "importance", -1, "Importance in [0, 1]")

	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output as JSON")
	showCmd.Flags().DurationVar(&showWindow, "window", 30*24*time.Hour, "Trailing window for citation velocity")
}

func runAdd(cmd *cobra.Command, args []string) error {
	reg, err := buildRegistration(args[0])
	if err != nil {
		return err
	}

	return withLibrary(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		res, err := lib.RegisterResource(ctx, reg)
		if err != nil {
			return err
		}

		if addImportance >= 0 {
			if err := lib.SetImportance(ctx, res.ID, addImportance); err != nil {
				return err
			}
		}

		w := cmd.OutOrStdout()
		state := "updated"
		if res.IsNew {
			state = "registered"
		}
		fmt.Fprintf(w, "%s resource %d\n", state, res.ID)
		if res.ContentHash != "" {
			fmt.Fprintf(w, "content %s\n", res.ContentHash)
		}
		return nil
	})
}

// buildRegistration assembles a registration from the add flags.
func buildRegistration(url string) (catalog.Registration, error) {
	reg := catalog.Registration{
		URL:       url,
		Fields:    catalog.TextFields{Title: addTitle, Summary: addSummary, Body: addBody},
		MediaType: addMediaType,
	}

	if addType != "" {
		t, err := catalog.ParseResourceType(addType)
		if err != nil {
			return reg, err
		}
		reg.Type = t
	}

	if addFile == "" {
		return reg, nil
	}

	data, err := os.ReadFile(addFile)
	if err != nil {
		return reg, err
	}
	reg.Content = data

	mediaType := reg.MediaType
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	if reg.Fields == (catalog.TextFields{}) && extract.IsHTML(mediaType) {
		fields, err := extract.HTML(data)
		if err != nil {
			return reg, err
		}
		reg.Fields = fields
	}
	return reg, nil
}

// showOutput is an entry plus its place in the citation graph.
type showOutput struct {
	catalog.Entry
	Degree   library.Degree `json:"degree"`
	Velocity float64        `json:"velocity"`
}

func runShow(cmd *cobra.Command, args []string) error {
	return withReader(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		entry, err := lookup(ctx, lib, args[0])
		if err != nil {
			return err
		}
		degrees, err := lib.Degrees(ctx, entry.ID)
		if err != nil {
			return err
		}
		velocity, err := lib.Velocity(ctx, entry.ID, showWindow)
		if err != nil {
			return err
		}
		out := showOutput{Entry: entry, Degree: degrees[entry.ID], Velocity: velocity}

		w := cmd.OutOrStdout()
		if showJSON {
			return writeJSON(w, out)
		}
		outputEntry(w, out)
		return nil
	})
}

// lookup resolves a numeric id or a URL.
func lookup(ctx context.Context, lib *library.Library, ref string) (catalog.Entry, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return lib.LookupByID(ctx, id)
	}
	return lib.LookupByURL(ctx, ref)
}

func outputEntry(w io.Writer, out showOutput) {
	e := out.Entry
	title := e.Fields.Title
	if title == "" {
		title = "(untitled)"
	}

	fmt.Fprintf(w, "%s %s\n", paint(w, colorYellow, fmt.Sprintf("#%d", e.ID)), paint(w, colorBold, title))
	fmt.Fprintf(w, "   %s %s\n", paint(w, colorGray, "URL:"), e.CanonicalURL)
	fmt.Fprintf(w, "   %s %s  %s %.2f  %s %d\n",
		paint(w, colorGray, "Type:"), e.Type,
		paint(w, colorGray, "Importance:"), e.Importance,
		paint(w, colorGray, "Seen:"), e.AccessCount)
	fmt.Fprintf(w, "   %s %s  %s %s\n",
		paint(w, colorGray, "Created:"), e.CreatedAt.Format(time.RFC3339),
		paint(w, colorGray, "Last seen:"), e.LastSeenAt.Format(time.RFC3339))
	fmt.Fprintf(w, "   %s %d  %s %d  %s %.3f/day\n",
		paint(w, colorGray, "Cited by:"), out.Degree.CitedBy,
		paint(w, colorGray, "Cites:"), out.Degree.Cites,
		paint(w, colorGray, "Velocity:"), out.Velocity)
	if e.ContentHash != "" {
		fmt.Fprintf(w, "   %s %s\n", paint(w, colorGray, "Content:"), e.ContentHash)
	}
	if e.Fields.Summary != "" {
		fmt.Fprintf(w, "   %s\n", extractSnippet(e.Fields.Summary, 200))
	}
	if e.Archived {
		fmt.Fprintf(w, "   %s\n", paint(w, colorRed, "archived"))
	}
}
