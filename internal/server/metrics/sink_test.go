package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()

	v, err := sink.GetCounter(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, sink.SetCounter(ctx, "bytes_type_image", 3))
	require.NoError(t, sink.SetCounter(ctx, "bytes_type_text", 4))
	require.NoError(t, sink.SetCounter(ctx, "uploads", 5))

	names, err := sink.ListCounters(ctx, TypeBucketPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"bytes_type_image", "bytes_type_text"}, names)
}

func TestNoopSink(t *testing.T) {
	ctx := context.Background()
	var sink NoopSink

	assert.NoError(t, sink.SetCounter(ctx, "x", 1))
	v, err := sink.GetCounter(ctx, "x")
	assert.NoError(t, err)
	assert.Zero(t, v)
}

func TestPrometheusSink(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	require.NoError(t, sink.SetCounter(ctx, CounterUploads, 7))
	assert.Equal(t, 7.0, testutil.ToFloat64(sink.gauge.WithLabelValues(CounterUploads)))

	v, err := sink.GetCounter(ctx, CounterUploads)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	count, err := testutil.GatherAndCount(reg, "quickdrop_counter")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
