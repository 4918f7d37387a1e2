package main

import (
	"errors"

	"github.com/tonimelisma/books-go/internal/listing"
)

// exitPartial is the exit code when a listing completed with per-shelf
// failures. Distinct from 1 so scripts can tell "some shelves failed" from
// "nothing worked".
const exitPartial = 2

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, listing.ErrPartialListing) {
			exitWithCode(err, exitPartial)
		}

		exitOnError(err)
	}
}
