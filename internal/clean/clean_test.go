package clean_test

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/smartlogix/tripwarehouse/internal/clean"
	"github.com/smartlogix/tripwarehouse/internal/trips"
	"github.com/stretchr/testify/require"
)

const rawHeader = "data,trip_creation_time,route_schedule_uuid,route_type,trip_uuid,source_center,source_name,destination_center,destination_name,od_start_time,od_end_time,is_cutoff,cutoff_timestamp,actual_distance_to_destination,actual_time,osrm_time,osrm_distance,factor,segment_actual_time,segment_osrm_time,segment_osrm_distance,segment_factor\n"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newCleaner(t *testing.T, exps []clean.Expectation) *clean.Cleaner {
	t.Helper()
	c, err := clean.New(clean.Config{Logger: newTestLogger(), Expectations: exps})
	require.NoError(t, err)
	return c
}

func TestClean_Cleaner_Clean(t *testing.T) {
	t.Parallel()

	row1 := "training,2018-09-20 02:35:36.476840,rs-1,  carting ,trip-1,IND388121AAA,anand_VUNagar_DC (gujarat),IND388620AAB,khambhat_MotvdPL_D (Gujarat),2018-09-20 03:21:32,2018-09-20 04:47:45,True,2018-09-20 04:27:55,10.43,120,100,11.96,2.2,14,11,11.9,1.27\n"
	row2 := "training,2018-09-20 02:35:36.476840,rs-1,last-mile,trip-2,IND388121AAA,anand_VUNagar_DC (gujarat),IND388620AAB,khambhat_MotvdPL_D (Gujarat),garbage,2018-09-20 04:47:45,False,,,oops,,11.96,2.2,14,11,11.9,0.5\n"
	input := rawHeader + row1 + row2 + row1

	trs, report, err := newCleaner(t, nil).Clean(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	require.Equal(t, 3, report.RowsIn)
	require.Equal(t, 1, report.Duplicates)
	require.Equal(t, 2, report.RowsOut)
	require.Len(t, trs, 2)
	require.Equal(t, map[string]int{"od_start_time": 1}, report.InvalidTimestamps)
	require.Equal(t, map[string]int{trips.ColActualTime: 1}, report.CoercedNumbers)
	require.Empty(t, report.CoercedFlags)

	first := trs[0]
	require.Equal(t, 1, first.Row)
	require.Equal(t, "trip-1", first.TripUUID)
	require.Equal(t, "Carting", first.RouteType)
	require.Equal(t, "Anand_Vunagar_Dc (Gujarat)", first.SourceName)
	require.Equal(t, "Khambhat_Motvdpl_D (Gujarat)", first.DestinationName)
	require.Equal(t, "IND388121AAA", first.SourceCenter)
	require.Equal(t, time.Date(2018, 9, 20, 2, 35, 36, 476840000, time.UTC), first.CreatedAt)
	require.Equal(t, 120.0, first.ActualTime)
	require.Equal(t, 100.0, first.OSRMTime)
	require.Equal(t, 20.0, first.TimeDeviation())
	require.Equal(t, 10.43, first.ActualDistance)
	require.Equal(t, 1.27, first.SegmentFactor)
	require.True(t, first.IsCutoff)

	second := trs[1]
	require.Equal(t, "Last-Mile", second.RouteType)
	require.Zero(t, second.ActualTime)
	require.Zero(t, second.OSRMTime)
	require.Zero(t, second.ActualDistance)
	require.False(t, second.IsCutoff)

	require.True(t, report.Passed())
	for _, res := range report.Expectations {
		require.Equal(t, 2, res.Evaluated, res.Rule)
	}
}

func TestClean_Cleaner_MalformedCutoffFlag(t *testing.T) {
	t.Parallel()

	row := func(uuid, cutoff string) string {
		return "training,2018-09-20 02:35:36,rs-1,Carting," + uuid + ",A,a,B,b,,," + cutoff + ",,1,10,8,1,1,1,1,1,1\n"
	}
	input := rawHeader + row("trip-1", "yes") + row("trip-2", "1") + row("trip-3", "TRUE")

	trs, report, err := newCleaner(t, nil).Clean(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, map[string]int{trips.ColIsCutoff: 1}, report.CoercedFlags)
	require.Len(t, trs, 3)
	require.False(t, trs[0].IsCutoff)
	require.True(t, trs[1].IsCutoff)
	require.True(t, trs[2].IsCutoff)
}

func TestClean_Cleaner_ExpectationFailures(t *testing.T) {
	t.Parallel()

	input := rawHeader +
		"training,2018-09-20 02:35:36,rs-1,FTL,trip-1,A,a,B,b,,,False,,1,1500,100,1,1,1,1,1,1\n" +
		",2018-09-20 02:35:36,rs-1,Carting,,A,a,B,b,,,False,,1,10,100,1,1,1,1,1,7.5\n"

	_, report, err := newCleaner(t, nil).Clean(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.False(t, report.Passed())

	byColumn := map[string]clean.ExpectationResult{}
	for _, res := range report.Expectations {
		byColumn[res.Expectation.Column] = res
	}
	require.Equal(t, 1, byColumn[trips.ColTripUUID].Unexpected)
	require.Equal(t, 1, byColumn[trips.ColRouteType].Unexpected)
	require.Equal(t, []string{"Ftl"}, byColumn[trips.ColRouteType].Samples)
	require.Equal(t, 1, byColumn[trips.ColActualTime].Unexpected)
	require.Equal(t, []string{"1500"}, byColumn[trips.ColActualTime].Samples)
	require.Equal(t, 1, byColumn[trips.ColSegmentFactor].Unexpected)
}

func TestClean_Cleaner_CustomExpectations(t *testing.T) {
	t.Parallel()

	exps, err := clean.ParseExpectations([]byte(`
expectations:
  - column: route_type
    kind: in_set
    values: [Carting, Ftl]
`))
	require.NoError(t, err)

	input := rawHeader + "training,2018-09-20 02:35:36,rs-1,FTL,trip-1,A,a,B,b,,,False,,1,1500,100,1,1,1,1,1,1\n"
	_, report, err := newCleaner(t, exps).Clean(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.True(t, report.Passed())
	require.Len(t, report.Expectations, 1)
}

func TestClean_Cleaner_InputErrors(t *testing.T) {
	t.Parallel()

	c := newCleaner(t, nil)

	_, _, err := c.Clean(context.Background(), strings.NewReader(""))
	require.ErrorContains(t, err, "empty input")

	_, _, err = c.Clean(context.Background(), strings.NewReader("a,b\n1,2\n"))
	require.ErrorContains(t, err, "no trip_uuid column")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = c.Clean(ctx, strings.NewReader(rawHeader))
	require.ErrorIs(t, err, context.Canceled)
}

func TestClean_TitleCase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"carting", "Carting"},
		{"FTL", "Ftl"},
		{"last-mile", "Last-Mile"},
		{"hub transfer", "Hub Transfer"},
		{"anand_VUNagar_DC (gujarat)", "Anand_Vunagar_Dc (Gujarat)"},
		{"2nd hub", "2Nd Hub"},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, clean.TitleCase(tt.in), tt.in)
	}
}
