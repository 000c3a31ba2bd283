package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/clinicauth"
)

func TestEveryCounterHasADefinition(t *testing.T) {
	seen := make(map[clinicauth.MetricID]bool, len(CounterDefs))
	for _, d := range CounterDefs {
		if !strings.HasPrefix(d.Name, Prefix) || !strings.HasSuffix(d.Name, "_total") {
			t.Fatalf("bad counter name %q", d.Name)
		}
		seen[d.ID] = true
	}
	for _, id := range clinicauth.AllMetricIDs() {
		if id == clinicauth.MetricValidateLatency {
			continue
		}
		if !seen[id] {
			t.Fatalf("metric %s has no counter definition", id)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 0, 3}))
	want := [8]uint64{1, 3, 3, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
	if len(HistogramUpperSeconds)+1 != len(HistogramBounds) {
		t.Fatal("bounds out of sync")
	}
}
