package books

import "time"

// VolumeCountUnknown is the sentinel for Shelf.VolumeCount when the API
// omitted the field. It is distinct from zero: a shelf reported with zero
// volumes is known to be empty.
const VolumeCountUnknown = -1

// Shelf is a bookshelf in the user's library.
type Shelf struct {
	ID          string
	Title       string
	Access      string
	VolumeCount int // VolumeCountUnknown when absent
	UpdatedAt   time.Time
}

// HasVolumeCount reports whether the server supplied a volume count.
func (s *Shelf) HasVolumeCount() bool {
	return s.VolumeCount != VolumeCountUnknown
}

// Volume is a book on a shelf.
type Volume struct {
	ShelfID     string
	ID          string
	Title       string
	Description string // empty when absent
	Authors     []string
}
