// Package listing walks the library hierarchy: one top-level shelf listing,
// then one volume listing per shelf that reports volumes. Per-shelf failures
// become markers in the report instead of aborting the walk.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/books-go/internal/auth"
	"github.com/tonimelisma/books-go/internal/books"
)

// ErrPartialListing means at least one nested fetch failed. The report is
// still complete at the top level; failed shelves carry their own error.
var ErrPartialListing = errors.New("listing: partial listing failure")

// Lister is the subset of books.Client the traversal needs.
type Lister interface {
	ListShelves(ctx context.Context) ([]books.Shelf, error)
	ListVolumes(ctx context.Context, shelfID string) ([]books.Volume, error)
}

// Status records what happened to one shelf during the traversal.
type Status int

const (
	// StatusSkipped: volume count absent or zero, no nested call was made.
	StatusSkipped Status = iota
	// StatusFetched: the nested call returned volumes.
	StatusFetched
	// StatusEmpty: the nested call succeeded but returned no volumes.
	StatusEmpty
	// StatusFailed: the nested call failed; Entry.Err holds the cause.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusFetched:
		return "fetched"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Entry is one shelf of the report with its nested outcome.
type Entry struct {
	Shelf   books.Shelf
	Status  Status
	Volumes []books.Volume
	Err     error
}

// Report is the ordered result of one traversal. Entries follow server
// order; so do the volumes inside each entry.
type Report struct {
	Entries []Entry
}

// Failed returns the number of entries with StatusFailed.
func (r *Report) Failed() int {
	n := 0

	for i := range r.Entries {
		if r.Entries[i].Status == StatusFailed {
			n++
		}
	}

	return n
}

// Err returns nil when every nested fetch succeeded, otherwise
// ErrPartialListing joined with each per-shelf error.
func (r *Report) Err() error {
	errs := []error{}

	for i := range r.Entries {
		e := &r.Entries[i]
		if e.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("shelf %q (%s): %w", e.Shelf.Title, e.Shelf.ID, e.Err))
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return errors.Join(append([]error{ErrPartialListing}, errs...)...)
}

// Options tunes a traversal.
type Options struct {
	// Workers bounds concurrent nested fetches. Values below 1 mean one.
	Workers int
	Logger  *slog.Logger
}

// ListAll lists every shelf and the volumes of each shelf with a positive
// volume count. A failed top-level call is returned as the error. Nested
// failures are recorded per entry; check Report.Err. Cancellation returns a
// nil report and an error matching auth.ErrCancelled.
func ListAll(ctx context.Context, lister Lister, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	shelves, err := lister.ListShelves(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}

		return nil, fmt.Errorf("listing: listing shelves: %w", err)
	}

	report := &Report{Entries: make([]Entry, len(shelves))}

	if len(shelves) == 0 {
		logger.Info("no bookshelves")
		return report, nil
	}

	workers := max(opts.Workers, 1)

	g := new(errgroup.Group)
	g.SetLimit(workers)

	for i := range shelves {
		entry := &report.Entries[i]
		entry.Shelf = shelves[i]

		if !entry.Shelf.HasVolumeCount() || entry.Shelf.VolumeCount <= 0 {
			entry.Status = StatusSkipped
			logger.Debug("skipping shelf without volumes",
				slog.String("shelf_id", entry.Shelf.ID),
				slog.Int("volume_count", entry.Shelf.VolumeCount),
			)

			continue
		}

		// Each goroutine writes only its own slot.
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			fetchEntry(ctx, lister, entry, logger)

			return nil
		})
	}

	_ = g.Wait()

	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	if n := report.Failed(); n > 0 {
		logger.Warn("listing completed with failures",
			slog.Int("shelves", len(report.Entries)),
			slog.Int("failed", n),
		)
	} else {
		logger.Info("listing completed", slog.Int("shelves", len(report.Entries)))
	}

	return report, nil
}

func fetchEntry(ctx context.Context, lister Lister, entry *Entry, logger *slog.Logger) {
	vols, err := lister.ListVolumes(ctx, entry.Shelf.ID)

	switch {
	case err != nil:
		entry.Status = StatusFailed
		entry.Err = err

		logger.Warn("listing shelf volumes failed",
			slog.String("shelf_id", entry.Shelf.ID),
			slog.String("error", err.Error()),
		)
	case len(vols) == 0:
		entry.Status = StatusEmpty
	default:
		entry.Status = StatusFetched
		entry.Volumes = vols
	}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: listing: %w", auth.ErrCancelled, ctx.Err())
}
