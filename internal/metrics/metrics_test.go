package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersMove(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(matchesEnded.WithLabelValues("SOLVED"))
	MatchEnded("SOLVED")
	if got := testutil.ToFloat64(matchesEnded.WithLabelValues("SOLVED")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}

	ConnectionOpened()
	ConnectionOpened()
	ConnectionClosed()
	if got := testutil.ToFloat64(activeConnections); got != 1 {
		t.Fatalf("expected 1 open connection, got %v", got)
	}

	ExecutionFinished("submit", true, 1500*time.Millisecond)
	if got := testutil.ToFloat64(executionJobs.WithLabelValues("submit", "passed")); got != 1 {
		t.Fatalf("expected one passed submit, got %v", got)
	}
}
