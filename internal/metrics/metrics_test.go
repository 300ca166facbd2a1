package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(SyncRuns.WithLabelValues("completed"))
	SyncRuns.WithLabelValues("completed").Inc()
	if got := testutil.ToFloat64(SyncRuns.WithLabelValues("completed")); got != before+1 {
		t.Errorf("sync runs = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(RouterDecisions.WithLabelValues("fast_path", "search"))
	RouterDecisions.WithLabelValues("fast_path", "search").Inc()
	if got := testutil.ToFloat64(RouterDecisions.WithLabelValues("fast_path", "search")); got != before+1 {
		t.Errorf("router decisions = %v, want %v", got, before+1)
	}
}

func TestCollectorsRegistered(t *testing.T) {
	SearchDuration.Observe(0.01)
	if n := testutil.CollectAndCount(SearchDuration); n != 1 {
		t.Errorf("search duration collected %d metrics, want 1", n)
	}
	if n := testutil.CollectAndCount(EmbeddingRetries); n != 1 {
		t.Errorf("embedding retries collected %d metrics, want 1", n)
	}
}
