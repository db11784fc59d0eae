package warehouse_test

import (
	"context"
	"sync"
	"time"

	"github.com/smartlogix/tripwarehouse/internal/warehouse"
)

// fakeStore is an in-memory DimensionStore and FactStore with natural key
// uniqueness, call counters and failure injection.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	dates     map[string]int64
	locations map[warehouse.LocationKey]int64
	vehicles  map[string]int64
	facts     map[string]warehouse.FactRow
	calls     map[string]int

	// concurrentWriter, when set for an op, inserts the row on behalf of a
	// competing writer just before our insert runs, so the insert conflicts.
	concurrentWriter map[string]bool
	failOn           map[string]error
	insertDelay      time.Duration

	// blockFindVehicle makes the next FindVehicle wait for its context to
	// end, closing findVehicleStarted once it is waiting.
	blockFindVehicle   bool
	findVehicleStarted chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		dates:            map[string]int64{},
		locations:        map[warehouse.LocationKey]int64{},
		vehicles:         map[string]int64{},
		facts:            map[string]warehouse.FactRow{},
		calls:            map[string]int{},
		concurrentWriter: map[string]bool{},
		failOn:           map[string]error{},
	}
}

func (s *fakeStore) begin(op string) error {
	s.calls[op]++
	return s.failOn[op]
}

func (s *fakeStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *fakeStore) FindDate(_ context.Context, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("FindDate"); err != nil {
		return 0, err
	}
	id, ok := s.dates[day.Format(time.DateOnly)]
	if !ok {
		return 0, warehouse.ErrNotFound
	}
	return id, nil
}

func (s *fakeStore) InsertDate(_ context.Context, row warehouse.DateRow) (int64, error) {
	time.Sleep(s.insertDelay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("InsertDate"); err != nil {
		return 0, err
	}
	key := row.FullDate.Format(time.DateOnly)
	if s.concurrentWriter["InsertDate"] {
		s.concurrentWriter["InsertDate"] = false
		s.nextID++
		s.dates[key] = s.nextID
	}
	if _, ok := s.dates[key]; ok {
		return 0, warehouse.ErrConflict
	}
	s.nextID++
	s.dates[key] = s.nextID
	return s.nextID, nil
}

func (s *fakeStore) FindLocation(_ context.Context, key warehouse.LocationKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("FindLocation"); err != nil {
		return 0, err
	}
	id, ok := s.locations[key]
	if !ok {
		return 0, warehouse.ErrNotFound
	}
	return id, nil
}

func (s *fakeStore) InsertLocation(_ context.Context, key warehouse.LocationKey) (int64, error) {
	time.Sleep(s.insertDelay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("InsertLocation"); err != nil {
		return 0, err
	}
	if s.concurrentWriter["InsertLocation"] {
		s.concurrentWriter["InsertLocation"] = false
		s.nextID++
		s.locations[key] = s.nextID
	}
	if _, ok := s.locations[key]; ok {
		return 0, warehouse.ErrConflict
	}
	s.nextID++
	s.locations[key] = s.nextID
	return s.nextID, nil
}

func (s *fakeStore) FindVehicle(ctx context.Context, vehicleType string) (int64, error) {
	s.mu.Lock()
	block := s.blockFindVehicle
	s.blockFindVehicle = false
	s.mu.Unlock()
	if block {
		close(s.findVehicleStarted)
		<-ctx.Done()
		return 0, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("FindVehicle"); err != nil {
		return 0, err
	}
	id, ok := s.vehicles[vehicleType]
	if !ok {
		return 0, warehouse.ErrNotFound
	}
	return id, nil
}

func (s *fakeStore) InsertVehicle(_ context.Context, vehicleType string) (int64, error) {
	time.Sleep(s.insertDelay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("InsertVehicle"); err != nil {
		return 0, err
	}
	if _, ok := s.vehicles[vehicleType]; ok {
		return 0, warehouse.ErrConflict
	}
	s.nextID++
	s.vehicles[vehicleType] = s.nextID
	return s.nextID, nil
}

func (s *fakeStore) InsertFact(_ context.Context, row warehouse.FactRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("InsertFact"); err != nil {
		return false, err
	}
	if _, ok := s.facts[row.TripUUID]; ok {
		return false, nil
	}
	s.facts[row.TripUUID] = row
	return true, nil
}
