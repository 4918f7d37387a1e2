package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/books-go/internal/books"
	"github.com/tonimelisma/books-go/internal/listing"
)

const noDescription = "no description"

func newShelvesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shelves",
		Short: "List your bookshelves and the volumes on each",
		Long: `List every bookshelf in your library and, for each shelf that reports
volumes, the volumes on it.

A shelf whose volumes could not be fetched is marked in the output; the
command then exits with status 2.`,
		RunE: runShelves,
	}
}

func runShelves(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	b, err := NewBackend(ctx, cc)
	if err != nil {
		return err
	}
	defer b.Close()

	sess, err := NewBooksSession(ctx, b)
	if err != nil {
		return err
	}

	sess.WatchStore(ctx)

	return listLibrary(ctx, cc, sess.Client, os.Stdout, cc.Flags.JSON)
}

// listLibrary runs one traversal and prints it. It returns the top-level
// error, or the report's partial-failure error after printing.
func listLibrary(ctx context.Context, cc *CLIContext, lister listing.Lister, w io.Writer, asJSON bool) error {
	report, err := listing.ListAll(ctx, lister, listing.Options{
		Workers: cc.Cfg.NestedWorkers,
		Logger:  cc.Logger,
	})
	if err != nil {
		return err
	}

	if asJSON {
		if err := printReportJSON(w, report); err != nil {
			return err
		}
	} else {
		printReport(w, report)
	}

	return report.Err()
}

// printReport writes the human-readable listing: one line per shelf, then
// one line per volume for shelves that were fetched.
func printReport(w io.Writer, r *listing.Report) {
	if len(r.Entries) == 0 {
		fmt.Fprintln(w, "No bookshelves found!")
		return
	}

	for i := range r.Entries {
		e := &r.Entries[i]

		fmt.Fprintf(w, "%s\t%s\n", e.Shelf.Title, volumeCountLabel(&e.Shelf))

		switch e.Status {
		case listing.StatusFetched:
			for j := range e.Volumes {
				fmt.Fprintf(w, "-- %s\t%s\n", e.Volumes[j].Title, describe(&e.Volumes[j]))
			}
		case listing.StatusFailed:
			fmt.Fprintf(w, "!! could not list volumes: %v\n", e.Err)
		case listing.StatusSkipped, listing.StatusEmpty:
		}
	}
}

func volumeCountLabel(s *books.Shelf) string {
	if !s.HasVolumeCount() {
		return ""
	}

	return fmt.Sprintf("%d volumes", s.VolumeCount)
}

func describe(v *books.Volume) string {
	if v.Description == "" {
		return noDescription
	}

	return v.Description
}

// shelvesOutput is the JSON schema for `shelves --json`.
type shelvesOutput struct {
	Shelves []shelfJSON `json:"shelves"`
}

type shelfJSON struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Access      string       `json:"access,omitempty"`
	VolumeCount *int         `json:"volume_count"`
	Updated     *time.Time   `json:"updated,omitempty"`
	Status      string       `json:"status"`
	Error       string       `json:"error,omitempty"`
	Volumes     []volumeJSON `json:"volumes,omitempty"`
}

type volumeJSON struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors,omitempty"`
	Description string   `json:"description,omitempty"`
}

func printReportJSON(w io.Writer, r *listing.Report) error {
	out := shelvesOutput{Shelves: make([]shelfJSON, 0, len(r.Entries))}

	for i := range r.Entries {
		e := &r.Entries[i]

		s := shelfJSON{
			ID:     e.Shelf.ID,
			Title:  e.Shelf.Title,
			Access: e.Shelf.Access,
			Status: e.Status.String(),
		}

		if e.Shelf.HasVolumeCount() {
			n := e.Shelf.VolumeCount
			s.VolumeCount = &n
		}

		if !e.Shelf.UpdatedAt.IsZero() {
			updated := e.Shelf.UpdatedAt
			s.Updated = &updated
		}

		if e.Err != nil {
			s.Error = e.Err.Error()
		}

		for j := range e.Volumes {
			v := &e.Volumes[j]
			s.Volumes = append(s.Volumes, volumeJSON{
				ID:          v.ID,
				Title:       v.Title,
				Authors:     v.Authors,
				Description: v.Description,
			})
		}

		out.Shelves = append(out.Shelves, s)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
