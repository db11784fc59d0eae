package warehouse

import (
	"context"
	"iter"
)

const DefaultPageSize = 5000

// TripViewer reads joined trip views.
type TripViewer interface {
	TripViews(ctx context.Context, filter TripFilter) ([]TripView, error)
}

// TripViewPages pages through the views matching filter by trip_id. The
// filter's AfterID is the starting point and its Limit is replaced by size.
// Iteration stops after the first error.
func TripViewPages(ctx context.Context, viewer TripViewer, filter TripFilter, size int) iter.Seq2[[]TripView, error] {
	if size <= 0 {
		size = DefaultPageSize
	}
	return func(yield func([]TripView, error) bool) {
		f := filter
		f.Limit = size
		for {
			page, err := viewer.TripViews(ctx, f)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page) == 0 {
				return
			}
			if !yield(page, nil) {
				return
			}
			if len(page) < size {
				return
			}
			f.AfterID = page[len(page)-1].TripID
		}
	}
}

// CollectTripViews reads every view matching filter.
func CollectTripViews(ctx context.Context, viewer TripViewer, filter TripFilter, size int) ([]TripView, error) {
	var all []TripView
	for page, err := range TripViewPages(ctx, viewer, filter, size) {
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
	}
	return all, nil
}
