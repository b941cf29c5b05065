package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Summary is the user-visible report for one orchestrator run.
type Summary struct {
	RunID   string        `json:"run_id"`
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	Results []LayerResult `json:"results"`
}

// Succeeded returns the number of layers that reached Done.
func (s *Summary) Succeeded() int {
	n := 0
	for _, r := range s.Results {
		if r.State == StageDone {
			n++
		}
	}
	return n
}

// Failed returns the number of layers that terminated in Failed.
func (s *Summary) Failed() int {
	return len(s.Results) - s.Succeeded()
}

// Format renders the run summary as a human-readable report block.
func (s *Summary) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "broadbandsync run %s\n", s.RunID)
	b.WriteString(strings.Repeat("=", 20) + "\n")
	fmt.Fprintf(&b, "Start time: %s\n", s.Start.Format("15:04:05"))
	fmt.Fprintf(&b, "End time: %s\n", s.End.Format("15:04:05"))
	fmt.Fprintf(&b, "Duration: %s\n", s.End.Sub(s.Start).Round(time.Millisecond))
	fmt.Fprintf(&b, "Layers: %d succeeded, %d failed\n", s.Succeeded(), s.Failed())

	for _, r := range s.Results {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Layer %s: %s\n", r.Layer, r.State)
		if r.State == StageFailed {
			fmt.Fprintf(&b, "  failed during %s: %s\n", r.FailedDuring, r.Error)
			if r.CheckpointSaved {
				fmt.Fprintf(&b, "  resume checkpoint saved at token %q\n", r.ResumeToken)
			}
			continue
		}
		fmt.Fprintf(&b, "  rows fetched: %d, published: %d\n", r.RowsFetched, r.RowsPublished)
		if r.ResumedReplace {
			b.WriteString("  resumed partial replace: layer holds a partial snapshot until the next full run\n")
		}
		if r.SummaryPublished > 0 {
			fmt.Fprintf(&b, "  summary features: %d\n", r.SummaryPublished)
		}
		if len(r.Skipped) > 0 {
			reasons := make([]string, 0, len(r.Skipped))
			for reason := range r.Skipped {
				reasons = append(reasons, reason)
			}
			sort.Strings(reasons)
			for _, reason := range reasons {
				fmt.Fprintf(&b, "  skipped (%s): %d\n", reason, r.Skipped[reason])
			}
		}
	}

	return b.String()
}
