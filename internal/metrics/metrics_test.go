package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGauges(t *testing.T) {
	SetTracked(5)
	if got := testutil.ToFloat64(trackedRecords); got != 5 {
		t.Fatalf("expected tracked=5, got %v", got)
	}

	before := testutil.ToFloat64(channelSessions)
	IncSessions()
	IncSessions()
	DecSessions()
	if got := testutil.ToFloat64(channelSessions); got != before+1 {
		t.Fatalf("expected sessions=%v, got %v", before+1, got)
	}
	DecSessions()

	SetQueueDepth(3)
	if got := testutil.ToFloat64(queueDepth); got != 3 {
		t.Fatalf("expected queue depth=3, got %v", got)
	}
}

func TestRegistryGathers(t *testing.T) {
	StatusEvents.WithLabelValues("sent").Inc()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "smsbridge_status_events_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected smsbridge_status_events_total to be registered")
	}
}
