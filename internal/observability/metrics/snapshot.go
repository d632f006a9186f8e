package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Snapshot is a compact view of the counters served on the admin stats
// endpoint.
type Snapshot struct {
	Turns            int64            `json:"turns"`
	TurnsByIntent    map[string]int64 `json:"turns_by_intent"`
	Failures         map[string]int64 `json:"failures"`
	CommitsByOutcome map[string]int64 `json:"commits_by_outcome"`
	StatusChanges    map[string]int64 `json:"status_changes"`
	SlotQueries      int64            `json:"slot_queries"`
	SlotQueryAvgMs   float64          `json:"slot_query_avg_ms"`
}

// TakeSnapshot reads the salon metric families from gatherer.
func TakeSnapshot(gatherer prometheus.Gatherer) (*Snapshot, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}

	snap := &Snapshot{
		TurnsByIntent:    map[string]int64{},
		Failures:         map[string]int64{},
		CommitsByOutcome: map[string]int64{},
		StatusChanges:    map[string]int64{},
	}
	var latencySum float64
	for _, mf := range mfs {
		if mf == nil {
			continue
		}
		switch mf.GetName() {
		case "salon_conversation_turns_total":
			for _, m := range mf.Metric {
				n := counterValue(m)
				snap.Turns += n
				snap.TurnsByIntent[labelValue(m, "intent")] += n
			}
		case "salon_conversation_failures_total":
			sumByLabel(mf, "kind", snap.Failures)
		case "salon_bookings_commits_total":
			sumByLabel(mf, "outcome", snap.CommitsByOutcome)
		case "salon_bookings_status_changes_total":
			sumByLabel(mf, "status", snap.StatusChanges)
		case "salon_bookings_slot_query_seconds":
			for _, m := range mf.Metric {
				h := m.GetHistogram()
				if h == nil {
					continue
				}
				snap.SlotQueries += int64(h.GetSampleCount())
				latencySum += h.GetSampleSum()
			}
		}
	}
	if snap.SlotQueries > 0 {
		snap.SlotQueryAvgMs = latencySum / float64(snap.SlotQueries) * 1000
	}
	return snap, nil
}

func sumByLabel(mf *dto.MetricFamily, label string, into map[string]int64) {
	for _, m := range mf.Metric {
		into[labelValue(m, label)] += counterValue(m)
	}
}

func counterValue(m *dto.Metric) int64 {
	if m == nil || m.GetCounter() == nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

func labelValue(m *dto.Metric, name string) string {
	if m == nil {
		return ""
	}
	for _, lp := range m.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
