package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefinder/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	searchID := [16]byte(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{SearchID: searchID, TS: now, Stage: progress.StageSearchStart},
		{
			SearchID: searchID,
			TS:       now.Add(time.Second),
			Stage:    progress.StagePageDone,
			Term:     "usb cable",
			Page:     1,
			Outcome:  progress.PageOK,
			Path:     "fast",
			Products: 60,
			Dur:      800 * time.Millisecond,
		},
		{
			SearchID: searchID,
			TS:       now.Add(2 * time.Second),
			Stage:    progress.StagePageDone,
			Term:     "usb cable",
			Page:     2,
			Outcome:  progress.PageFetchError,
		},
		{SearchID: searchID, TS: now.Add(15 * time.Second), Stage: progress.StageSearchDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.searchesStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.searchesCompleted.WithLabelValues("finished")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.searchesCompleted.WithLabelValues("failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.searchesRunning))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("ok", "fast")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("fetch_error", "none")), 1e-9)
	require.InDelta(t, 60.0, testutil.ToFloat64(sink.products), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.pageDuration, "storefinder_page_duration_seconds"))
}

// TestPrometheusSinkRunningGauge tracks searches that have not completed yet.
func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	first := [16]byte(uuid.New())
	second := [16]byte(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SearchID: first, TS: now, Stage: progress.StageSearchStart},
		{SearchID: first, TS: now, Stage: progress.StageSearchStart},
		{SearchID: second, TS: now, Stage: progress.StageSearchStart},
		{SearchID: second, TS: now, Stage: progress.StageSearchStopped},
	}))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.searchesRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.searchesCompleted.WithLabelValues("stopped")))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
