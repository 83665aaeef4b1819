package sourcedb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MPoppinga/partitioncache/internal/cachecontract"
)

func TestFormatValue(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	cases := []struct {
		name string
		raw  any
		dt   cachecontract.Datatype
		want cachecontract.PartitionValue
	}{
		{"string", "north", cachecontract.Text, "north"},
		{"int64", int64(42), cachecontract.Integer, "42"},
		{"int32", int32(7), cachecontract.Integer, "7"},
		{"float64", 3.5, cachecontract.Float, "3.5"},
		{"time", ts, cachecontract.Timestamp, "2026-01-02T03:04:05Z"},
		{"nil", nil, cachecontract.Integer, ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, formatValue(tc.raw, tc.dt))
		})
	}
}

func TestEvaluationTimeoutError(t *testing.T) {
	t.Parallel()

	err := &EvaluationTimeoutError{Partition: "region_id", Hash: "abc", Timeout: "2s"}
	require.Contains(t, err.Error(), "region_id")
	require.Contains(t, err.Error(), "2s")
}
