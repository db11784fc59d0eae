package warehouse_test

import (
	"strings"
	"testing"
	"time"

	"github.com/smartlogix/tripwarehouse/internal/warehouse"
	"github.com/stretchr/testify/require"
)

func TestWarehouse_TripViewQuery(t *testing.T) {
	t.Parallel()

	query, args := warehouse.TripViewQuery(warehouse.TripFilter{})
	require.Empty(t, args)
	require.NotContains(t, query, "WHERE")
	require.True(t, strings.HasSuffix(query, "ORDER BY f.trip_id"))

	from := time.Date(2018, 9, 12, 0, 0, 0, 0, time.UTC)
	to := time.Date(2018, 10, 3, 0, 0, 0, 0, time.UTC)
	query, args = warehouse.TripViewQuery(warehouse.TripFilter{
		From:            from,
		To:              to,
		RouteTypes:      []string{"Carting", "Ftl"},
		SourceName:      "Gurgaon_Bilaspur_Hb (Haryana)",
		DestinationName: "Bangalore_Nelmngla_H (Karnataka)",
		CutoffOnly:      true,
		AfterID:         500,
		Limit:           100,
	})

	require.Contains(t, query, "WHERE f.trip_id > $1 AND d.full_date >= CAST($2 AS DATE) AND d.full_date <= CAST($3 AS DATE)")
	require.Contains(t, query, "f.route_type IN ($4, $5)")
	require.Contains(t, query, "src.center_name = $6 AND dst.center_name = $7 AND f.is_cutoff = TRUE")
	require.True(t, strings.HasSuffix(query, "ORDER BY f.trip_id LIMIT 100"))
	require.Equal(t, []any{
		int64(500), from, to, "Carting", "Ftl",
		"Gurgaon_Bilaspur_Hb (Haryana)", "Bangalore_Nelmngla_H (Karnataka)",
	}, args)
}

func TestWarehouse_TripView_Derive(t *testing.T) {
	t.Parallel()

	v := warehouse.TripView{
		SourceName:      "Anand",
		DestinationName: "Khambhat",
		ActualTime:      200,
		OSRMTime:        100,
		ActualDistance:  0,
		OSRMDistance:    12,
	}
	v.Derive()
	require.Equal(t, "Anand → Khambhat", v.Route)
	require.Equal(t, 0.5, v.EfficiencyRatio)
	require.Zero(t, v.DistanceEfficiency)
}

func TestWarehouse_RedactURI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"postgres://etl:secret@db:5432/logistics_db?sslmode=disable", "postgres://etl:REDACTED@db:5432/logistics_db?sslmode=disable"},
		{"postgres://etl@db/logistics_db", "postgres://etl@db/logistics_db"},
		{"host=db user=etl password=secret dbname=logistics_db", "host=db user=etl password=REDACTED dbname=logistics_db"},
		{"duckdb:///var/lib/tripwh/warehouse.duckdb", "duckdb:///var/lib/tripwh/warehouse.duckdb"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, warehouse.RedactURI(tt.in))
	}
}
