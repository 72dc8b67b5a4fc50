// Package paginator implements the server-side ordered-list iterator
// every list-typed reference (folders, mails) in the entity model is
// resolved through.
package paginator

import (
	"context"
	"fmt"

	"github.com/tuta-cli/tuta-export/internal/errs"
)

// Direction selects which way list_range walks the list.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Sentinel start IDs the service recognizes as list boundaries.
const (
	Min = "------------"
	Max = "zzzzzzzzzzzz"
)

// DefaultPageSize is the per-request batch size; Fetcher may cap it lower
// but never raises it.
const DefaultPageSize = 1000

// Fetcher performs one bounded list_range request against the service.
// Implementations decode each raw element into T via the entity package's
// decoders; Fetch must return elements in the server's wire order so
// List's ordering check is meaningful.
type Fetcher[T any] interface {
	Fetch(ctx context.Context, listID, startID string, dir Direction, limit int) (elements []T, elementIDs []string, err error)
}

// List walks listID from Min ascending to exhaustion, calling Fetcher in
// pageSize batches and returning every entity exactly once, in strictly increasing element-ID order. pageSize <= 0 selects
// DefaultPageSize.
func List[T any](ctx context.Context, f Fetcher[T], listID string, pageSize int) ([]T, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var all []T
	startID := Min
	lastSeen := ""

	for {
		if err := ctx.Err(); err != nil {
			return all, errs.New(errs.KindCancelled, "paginate list "+listID, err)
		}

		elems, ids, err := f.Fetch(ctx, listID, startID, Ascending, pageSize)
		if err != nil {
			return all, errs.New(errs.KindNetwork, "paginate list "+listID, err)
		}
		if len(elems) != len(ids) {
			return all, errs.New(errs.KindCodec, "paginate list "+listID,
				fmt.Errorf("fetcher returned %d elements but %d ids", len(elems), len(ids)))
		}

		for i, id := range ids {
			if id == lastSeen {
				continue // page-boundary duplicate
			}
			if lastSeen != "" && id <= lastSeen {
				return all, errs.New(errs.KindCodec, "paginate list "+listID,
					fmt.Errorf("out-of-order element id %q after %q", id, lastSeen))
			}
			all = append(all, elems[i])
			lastSeen = id
		}

		if len(ids) < pageSize {
			return all, nil
		}
		startID = lastSeen
	}
}
