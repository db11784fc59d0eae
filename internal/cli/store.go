package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/smartlogix/tripwarehouse/internal/warehouse"
	"github.com/smartlogix/tripwarehouse/internal/warehouse/duck"
	"github.com/smartlogix/tripwarehouse/internal/warehouse/postgres"
)

type storeKind string

const (
	storeKindPostgres storeKind = "postgres"
	storeKindDuckDB   storeKind = "duckdb"
)

type storeTarget struct {
	Kind storeKind
	// URL is the Postgres connection URL.
	URL string
	// Path is the DuckDB database file. Empty means in-memory.
	Path string
}

func parseStoreURI(uri string) (storeTarget, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		if _, err := url.Parse(uri); err != nil {
			return storeTarget{}, fmt.Errorf("invalid postgres URI: %w", err)
		}
		return storeTarget{Kind: storeKindPostgres, URL: uri}, nil
	case strings.HasPrefix(uri, "duckdb://"):
		return storeTarget{Kind: storeKindDuckDB, Path: strings.TrimPrefix(uri, "duckdb://")}, nil
	case uri == "":
		return storeTarget{}, fmt.Errorf("store URI is required")
	default:
		return storeTarget{}, fmt.Errorf("unsupported store URI %q: must start with postgres://, postgresql:// or duckdb://", warehouse.RedactURI(uri))
	}
}

// defaultStoreURI builds a Postgres URI from the POSTGRES_* environment.
func defaultStoreURI() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(getenv("POSTGRES_HOST", "localhost"), getenv("POSTGRES_PORT", "5432")),
		Path:   "/" + getenv("POSTGRES_DB", "logistics_db"),
	}
	user := getenv("POSTGRES_USER", "delhivery_user")
	if pass := getenv("POSTGRES_PASSWORD", ""); pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	if sslmode := getenv("POSTGRES_SSLMODE", ""); sslmode != "" {
		u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()
	}
	return u.String()
}

// openStore opens the warehouse named by uri and applies the schema.
func openStore(ctx context.Context, log *slog.Logger, uri string) (warehouse.Store, error) {
	target, err := parseStoreURI(uri)
	if err != nil {
		return nil, err
	}

	var store warehouse.Store
	switch target.Kind {
	case storeKindPostgres:
		log.Debug("opening postgres warehouse", "url", warehouse.RedactURI(target.URL))
		store, err = postgres.Open(ctx, postgres.Config{Logger: log, URL: target.URL})
	case storeKindDuckDB:
		store, err = duck.Open(ctx, duck.Config{Logger: log, Path: target.Path})
	}
	if err != nil {
		return nil, err
	}

	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
