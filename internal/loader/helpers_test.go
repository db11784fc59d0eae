package loader_test

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smartlogix/tripwarehouse/internal/trips"
	"github.com/smartlogix/tripwarehouse/internal/warehouse"
	"github.com/smartlogix/tripwarehouse/internal/warehouse/duck"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *duck.Store {
	t.Helper()
	ctx := context.Background()
	store, err := duck.Open(ctx, duck.Config{Logger: newTestLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

var baseTime = time.Date(2018, 9, 20, 2, 35, 36, 0, time.UTC)

func validTrip(i int) trips.Trip {
	return trips.Trip{
		Row:               i + 1,
		TripUUID:          fmt.Sprintf("trip-%05d", i),
		RouteScheduleUUID: "thanos::sroute:" + uuid.NewString(),
		RouteType:         "Carting",
		CreatedAt:         baseTime,
		SourceCenter:      "IND388121AAA",
		SourceName:        "Anand_VUNagar_DC (Gujarat)",
		DestinationCenter: "IND388620AAB",
		DestinationName:   "Khambhat_MotvdDPP_D (Gujarat)",
		ActualTime:        120,
		OSRMTime:          100,
		ActualDistance:    45.2,
		OSRMDistance:      38.9,
		SegmentFactor:     1.2,
	}
}

func validTrips(n int) []trips.Trip {
	out := make([]trips.Trip, n)
	for i := range out {
		out[i] = validTrip(i)
	}
	return out
}

// counting wraps a record sequence and counts how many records were pulled.
func counting(seq iter.Seq2[trips.Trip, error], n *int) iter.Seq2[trips.Trip, error] {
	return func(yield func(trips.Trip, error) bool) {
		for t, err := range seq {
			*n++
			if !yield(t, err) {
				return
			}
		}
	}
}

var errConnReset = errors.New("read tcp 10.0.0.4:5432: connection reset by peer")

// flakyStore injects failures into a real store.
type flakyStore struct {
	*duck.Store

	mu        sync.Mutex
	failAll   bool
	failFacts map[string]bool
	block     bool
	countsErr error
	factCalls int
}

func (s *flakyStore) InsertFact(ctx context.Context, row warehouse.FactRow) (bool, error) {
	s.mu.Lock()
	s.factCalls++
	fail := s.failAll || s.failFacts[row.TripUUID]
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if fail {
		return false, errConnReset
	}
	return s.Store.InsertFact(ctx, row)
}

func (s *flakyStore) Counts(ctx context.Context) (warehouse.TableCounts, error) {
	if s.countsErr != nil {
		return warehouse.TableCounts{}, s.countsErr
	}
	return s.Store.Counts(ctx)
}

func (s *flakyStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.factCalls
}
