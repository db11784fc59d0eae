package clean_test

import (
	"testing"

	"github.com/smartlogix/tripwarehouse/internal/clean"
	"github.com/stretchr/testify/require"
)

func TestClean_DefaultExpectations(t *testing.T) {
	t.Parallel()

	exps, err := clean.DefaultExpectations()
	require.NoError(t, err)
	require.Len(t, exps, 4)

	rules := make([]string, 0, len(exps))
	for _, e := range exps {
		rules = append(rules, e.String())
	}
	require.Equal(t, []string{
		"trip_uuid not_null",
		"route_type in {Carting, Feeder, Last-Mile, Hub Transfer}",
		"actual_time between [0, 1000]",
		"segment_factor between [0, 5]",
	}, rules)

	// Callers get their own copy.
	exps[0].Column = "changed"
	again, err := clean.DefaultExpectations()
	require.NoError(t, err)
	require.Equal(t, "trip_uuid", again[0].Column)
}

func TestClean_ParseExpectations_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "not yaml", doc: "expectations: [", want: "failed to parse expectations"},
		{name: "empty", doc: "expectations: []", want: "no expectations defined"},
		{name: "missing column", doc: "expectations:\n  - kind: not_null\n", want: "column is required"},
		{name: "unknown kind", doc: "expectations:\n  - column: a\n    kind: regex\n", want: `unknown kind "regex"`},
		{name: "in_set without values", doc: "expectations:\n  - column: a\n    kind: in_set\n", want: "requires values"},
		{name: "between without bounds", doc: "expectations:\n  - column: a\n    kind: between\n", want: "requires min or max"},
		{name: "inverted bounds", doc: "expectations:\n  - column: a\n    kind: between\n    min: 5\n    max: 1\n", want: "greater than max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := clean.ParseExpectations([]byte(tt.doc))
			require.ErrorContains(t, err, tt.want)
		})
	}
}
