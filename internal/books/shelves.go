package books

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// volumesPageSize is the largest maxResults the volumes endpoint accepts.
const volumesPageSize = 40

// maxVolumePages bounds pagination of a single shelf.
const maxVolumePages = 250

// shelfResponse mirrors a bookshelf resource.
// Unexported; callers use Shelf via toShelf() normalization.
type shelfResponse struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	Access      string      `json:"access"`
	Updated     string      `json:"updated"`
	VolumeCount *int        `json:"volumeCount"`
}

// shelvesListResponse wraps the items array from GET /mylibrary/bookshelves.
// Items is nil when the server omitted it.
type shelvesListResponse struct {
	Items []shelfResponse `json:"items"`
}

// volumeResponse mirrors a volume resource; only volumeInfo fields the
// listing shows are decoded.
type volumeResponse struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Authors     []string `json:"authors"`
	} `json:"volumeInfo"`
}

// volumesListResponse wraps one page of GET .../volumes.
type volumesListResponse struct {
	TotalItems int              `json:"totalItems"`
	Items      []volumeResponse `json:"items"`
}

// toShelf normalizes a bookshelf response into our Shelf type.
// An absent volumeCount becomes VolumeCountUnknown; a malformed timestamp
// leaves UpdatedAt zero.
func (s *shelfResponse) toShelf() Shelf {
	shelf := Shelf{
		ID:          s.ID.String(),
		Title:       norm.NFC.String(s.Title),
		Access:      s.Access,
		VolumeCount: VolumeCountUnknown,
	}

	if s.VolumeCount != nil {
		shelf.VolumeCount = *s.VolumeCount
	}

	if s.Updated != "" {
		if t, err := time.Parse(time.RFC3339, s.Updated); err == nil {
			shelf.UpdatedAt = t
		}
	}

	return shelf
}

// toVolume normalizes a volume response into our Volume type.
func (v *volumeResponse) toVolume(shelfID string) Volume {
	return Volume{
		ShelfID:     shelfID,
		ID:          v.ID,
		Title:       norm.NFC.String(v.VolumeInfo.Title),
		Description: v.VolumeInfo.Description,
		Authors:     v.VolumeInfo.Authors,
	}
}

// ListShelves returns the user's bookshelves in server order. It returns a
// nil slice when the server response has no items collection.
func (c *Client) ListShelves(ctx context.Context) ([]Shelf, error) {
	c.logger.Info("listing bookshelves")

	resp, err := c.Do(ctx, http.MethodGet, "/mylibrary/bookshelves")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var slr shelvesListResponse
	if err := json.NewDecoder(resp.Body).Decode(&slr); err != nil {
		return nil, fmt.Errorf("books: decoding bookshelves response: %w", err)
	}

	if slr.Items == nil {
		c.logger.Info("bookshelves response has no items")
		return nil, nil
	}

	shelves := make([]Shelf, 0, len(slr.Items))
	for i := range slr.Items {
		shelves = append(shelves, slr.Items[i].toShelf())
	}

	c.logger.Info("listed bookshelves", slog.Int("count", len(shelves)))

	return shelves, nil
}

// ListVolumes returns the volumes on one shelf in server order, following
// startIndex pagination until totalItems is reached or a short page arrives.
// It also stops when a page repeats the previous one (the server ignored
// startIndex) or after maxVolumePages pages.
// It returns a nil slice when the server reports no items.
func (c *Client) ListVolumes(ctx context.Context, shelfID string) ([]Volume, error) {
	c.logger.Info("listing shelf volumes", slog.String("shelf_id", shelfID))

	var (
		volumes   []Volume
		prevFirst string
	)

	for start, pages := 0, 0; ; pages++ {
		if pages == maxVolumePages {
			c.logger.Warn("volume pagination limit reached",
				slog.String("shelf_id", shelfID),
				slog.Int("pages", pages),
			)

			break
		}

		page, err := c.volumesPage(ctx, shelfID, start)
		if err != nil {
			return nil, err
		}

		if len(page.Items) > 0 && pages > 0 && page.Items[0].ID == prevFirst {
			c.logger.Warn("volumes page repeats the previous page, stopping",
				slog.String("shelf_id", shelfID),
				slog.Int("start_index", start),
			)

			break
		}

		if len(page.Items) > 0 {
			prevFirst = page.Items[0].ID
		}

		for i := range page.Items {
			volumes = append(volumes, page.Items[i].toVolume(shelfID))
		}

		start += len(page.Items)

		if len(page.Items) < volumesPageSize || (page.TotalItems > 0 && start >= page.TotalItems) {
			break
		}

		c.logger.Debug("fetching next volumes page",
			slog.String("shelf_id", shelfID),
			slog.Int("start_index", start),
			slog.Int("total_items", page.TotalItems),
		)
	}

	c.logger.Info("listed shelf volumes",
		slog.String("shelf_id", shelfID),
		slog.Int("count", len(volumes)),
	)

	return volumes, nil
}

func (c *Client) volumesPage(ctx context.Context, shelfID string, start int) (*volumesListResponse, error) {
	q := url.Values{
		"startIndex": {strconv.Itoa(start)},
		"maxResults": {strconv.Itoa(volumesPageSize)},
	}

	path := fmt.Sprintf("/mylibrary/bookshelves/%s/volumes?%s", url.PathEscape(shelfID), q.Encode())

	resp, err := c.Do(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var vlr volumesListResponse
	if err := json.NewDecoder(resp.Body).Decode(&vlr); err != nil {
		return nil, fmt.Errorf("books: decoding volumes response for shelf %s: %w", shelfID, err)
	}

	return &vlr, nil
}
