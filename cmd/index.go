package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	liberrors "github.com/adalundhe/shelf/core/errors"
	"github.com/adalundhe/shelf/core/library"
	"github.com/adalundhe/shelf/core/search"
)

// =============================================================================
// Reindex Command
// =============================================================================

var reindexJSON bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the catalog",
	Long: `Rebuild the search index from every live catalog entry and persist it.

Registrations never update the index on their own; run this after adding or
editing resources to make their text searchable.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

// =============================================================================
// Verify Command
// =============================================================================

var verifyJSON bool

var verifyCmd = &cobra.Command{
	Use:   "verify [hash]",
	Short: "Check stored content against its hash",
	Long: `Rehash stored content and report objects whose bytes no longer match.
Without an argument every object is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

// =============================================================================
// Status Command
// =============================================================================

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the library",
	Long: `Count resources, citations and stored objects, and describe the search
index. The library is opened read-only, so this works while serve is running.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)

	reindexCmd.Flags().BoolVar(&reindexJSON, "json", false, "Output as JSON")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runReindex(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		stats, err := lib.RebuildIndex(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if reindexJSON {
			return writeJSON(w, stats)
		}
		outputIndexStats(w, stats)
		return nil
	})
}

func outputIndexStats(w io.Writer, stats search.Stats) {
	fmt.Fprintf(w, "%s\n", paint(w, colorGreen, "Index rebuilt"))
	fmt.Fprintf(w, "   %s %d\n", paint(w, colorGray, "Documents:"), stats.Documents)
	fmt.Fprintf(w, "   %s %d\n", paint(w, colorGray, "Terms:"), stats.Terms)
	fmt.Fprintf(w, "   %s %.2f\n", paint(w, colorGray, "Avg length:"), stats.AverageLength)
	fmt.Fprintf(w, "   %s %v\n", paint(w, colorGray, "Duration:"), stats.BuildDuration)
}

// errCorruptContent is returned when verify finds a mismatch, so the exit
// status reflects it.
var errCorruptContent = errors.New("corrupted content found")

func runVerify(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		var report []library.Verification

		if len(args) == 1 {
			ok, err := lib.VerifyContent(args[0])
			v := library.Verification{Hash: args[0], OK: ok}
			if err != nil {
				if ok || !liberrors.IsCorrupted(err) {
					return err
				}
				v.Error = err.Error()
			}
			report = append(report, v)
		} else {
			var err error
			report, err = lib.VerifyAllContent()
			if err != nil {
				return err
			}
		}

		w := cmd.OutOrStdout()
		if verifyJSON {
			if err := writeJSON(w, report); err != nil {
				return err
			}
		} else {
			outputVerification(w, report)
		}

		for _, v := range report {
			if !v.OK {
				return errCorruptContent
			}
		}
		return nil
	})
}

func outputVerification(w io.Writer, report []library.Verification) {
	bad := 0
	for _, v := range report {
		if v.OK {
			fmt.Fprintf(w, "%s %s\n", paint(w, colorGreen, "ok     "), v.Hash)
			continue
		}
		bad++
		fmt.Fprintf(w, "%s %s  %s\n", paint(w, colorRed, "corrupt"), v.Hash, paint(w, colorGray, v.Error))
	}
	fmt.Fprintf(w, "%d objects checked, %d corrupt\n", len(report), bad)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withReader(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		status, err := lib.Status(ctx)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if statusJSON {
			return writeJSON(w, status)
		}
		fmt.Fprintf(w, "%s %s\n", paint(w, colorBold, "Library"), status.Root)
		fmt.Fprintf(w, "   %s %d\n", paint(w, colorGray, "Resources:"), status.Resources)
		fmt.Fprintf(w, "   %s %d\n", paint(w, colorGray, "Citations:"), status.Citations)
		fmt.Fprintf(w, "   %s %d (%d bytes)\n", paint(w, colorGray, "Objects:"), status.Objects, status.ContentBytes)
		fmt.Fprintf(w, "   %s %d documents, %d terms\n", paint(w, colorGray, "Index:"), status.Index.Documents, status.Index.Terms)
		return nil
	})
}
