package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

const defaultCacheSize = 10_000

type dimension string

const (
	dimensionDate     dimension = "date"
	dimensionLocation dimension = "location"
	dimensionVehicle  dimension = "vehicle"
)

const (
	resolvedFromCache   = "cache"
	resolvedFromStore   = "store"
	resolvedFromCreated = "created"
)

type ResolverConfig struct {
	Logger  *slog.Logger
	Store   DimensionStore
	Metrics *Metrics

	// CacheSize bounds the number of surrogates remembered for the run.
	CacheSize int
}

func (cfg *ResolverConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.CacheSize < 0 {
		return errors.New("cache size must not be negative")
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = defaultCacheSize
	}
	return nil
}

// Resolver maps dimension natural keys to surrogate identifiers, creating
// rows for unseen keys. It is safe for concurrent use. The store's uniqueness
// constraints arbitrate between resolvers racing on the same key: the loser's
// insert reports ErrConflict and it re-queries the winner's row.
//
// A Resolver is meant to live for a single run. Its cache is never
// authoritative across runs; a miss always falls back to the store.
type Resolver struct {
	log     *slog.Logger
	store   DimensionStore
	metrics *Metrics
	cache   *ttlcache.Cache[string, int64]
	flight  singleflight.Group
}

func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	cache := ttlcache.New[string, int64](
		ttlcache.WithCapacity[string, int64](uint64(cfg.CacheSize)),
	)
	return &Resolver{
		log:     cfg.Logger,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		cache:   cache,
	}, nil
}

// ResolveDate returns the surrogate for the calendar day of t.
func (r *Resolver) ResolveDate(ctx context.Context, t time.Time) (int64, error) {
	if t.IsZero() {
		return 0, fmt.Errorf("%w: zero date", ErrInvalidKey)
	}
	row := NewDateRow(t)
	key := "date|" + row.FullDate.Format(time.DateOnly)
	return r.resolve(ctx, dimensionDate, key,
		func(ctx context.Context) (int64, error) { return r.store.FindDate(ctx, row.FullDate) },
		func(ctx context.Context) (int64, error) { return r.store.InsertDate(ctx, row) },
	)
}

// ResolveLocation returns the surrogate for a center code, name and type.
func (r *Resolver) ResolveLocation(ctx context.Context, key LocationKey) (int64, error) {
	if key.Code == "" || key.Name == "" {
		return 0, fmt.Errorf("%w: location code and name are required", ErrInvalidKey)
	}
	if !key.Type.Valid() {
		return 0, fmt.Errorf("%w: unknown location type %q", ErrInvalidKey, key.Type)
	}
	return r.resolve(ctx, dimensionLocation, "location|"+key.String(),
		func(ctx context.Context) (int64, error) { return r.store.FindLocation(ctx, key) },
		func(ctx context.Context) (int64, error) { return r.store.InsertLocation(ctx, key) },
	)
}

// ResolveVehicle returns the surrogate for a vehicle type label.
func (r *Resolver) ResolveVehicle(ctx context.Context, vehicleType string) (int64, error) {
	if vehicleType == "" {
		return 0, fmt.Errorf("%w: vehicle type is required", ErrInvalidKey)
	}
	return r.resolve(ctx, dimensionVehicle, "vehicle|"+vehicleType,
		func(ctx context.Context) (int64, error) { return r.store.FindVehicle(ctx, vehicleType) },
		func(ctx context.Context) (int64, error) { return r.store.InsertVehicle(ctx, vehicleType) },
	)
}

type storeOp func(ctx context.Context) (int64, error)

// resolve funnels concurrent callers for the same key through one flight.
// The flight runs under the context of the caller that started it. Every
// caller waits on its own context, and a caller whose flight failed only
// because another caller's context ended starts a new one.
func (r *Resolver) resolve(ctx context.Context, dim dimension, key string, find, insert storeOp) (int64, error) {
	if item := r.cache.Get(key); item != nil {
		r.metrics.DimensionResolved.WithLabelValues(string(dim), resolvedFromCache).Inc()
		return item.Value(), nil
	}

	for {
		led := false
		ch := r.flight.DoChan(key, func() (any, error) {
			led = true
			id, source, err := r.findOrCreate(ctx, dim, find, insert)
			if err != nil {
				return int64(0), err
			}
			r.cache.Set(key, id, ttlcache.DefaultTTL)
			r.metrics.DimensionResolved.WithLabelValues(string(dim), source).Inc()
			if source == resolvedFromCreated {
				r.log.Debug("created dimension row", "dimension", dim, "key", key, "id", id)
			}
			return id, nil
		})

		select {
		case <-ctx.Done():
			return 0, &StorageError{Op: "resolve " + string(dim), Err: ctx.Err()}
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(int64), nil
			}
			if !led && isContextErr(res.Err) && ctx.Err() == nil {
				r.log.Debug("retrying dimension lookup after another caller's context ended", "dimension", dim, "key", key)
				continue
			}
			return 0, &StorageError{Op: "resolve " + string(dim), Err: res.Err}
		}
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Resolver) findOrCreate(ctx context.Context, dim dimension, find, insert storeOp) (int64, string, error) {
	id, err := find(ctx)
	if err == nil {
		return id, resolvedFromStore, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, "", fmt.Errorf("failed to look up %s: %w", dim, err)
	}

	id, err = insert(ctx)
	if err == nil {
		return id, resolvedFromCreated, nil
	}
	if !errors.Is(err, ErrConflict) {
		return 0, "", fmt.Errorf("failed to insert %s: %w", dim, err)
	}

	// Another writer created the row between our lookup and insert.
	r.metrics.DimensionRaceLost.WithLabelValues(string(dim)).Inc()
	id, err = find(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("failed to re-query %s after conflict: %w", dim, err)
	}
	return id, resolvedFromStore, nil
}

// CacheLen reports the number of cached surrogates.
func (r *Resolver) CacheLen() int {
	return r.cache.Len()
}
