package models

import "time"

// Manifest is the published result of one generation run
type Manifest struct {
	RunID       string     `json:"run_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Tests       []TestSpec `json:"tests"`
	// Pending lists known issues surfaced once per run
	Pending []string `json:"pending,omitempty"`
}

// NewManifest snapshots tests into a manifest
func NewManifest(runID string, tests []*Test, pending []string) *Manifest {
	specs := make([]TestSpec, 0, len(tests))
	for _, t := range tests {
		specs = append(specs, t.Spec())
	}
	return &Manifest{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Tests:       specs,
		Pending:     pending,
	}
}

// Counts returns the number of runnable and skipped tests
func (m *Manifest) Counts() (runnable, skipped int) {
	for _, t := range m.Tests {
		if t.Skip {
			skipped++
		} else {
			runnable++
		}
	}
	return runnable, skipped
}

// RunSummary describes a stored generation run
type RunSummary struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Runnable    int       `json:"runnable"`
	Skipped     int       `json:"skipped"`
	Pending     []string  `json:"pending,omitempty"`
}

// Summary returns the summary of the manifest
func (m *Manifest) Summary() RunSummary {
	runnable, skipped := m.Counts()
	return RunSummary{
		ID:          m.RunID,
		GeneratedAt: m.GeneratedAt,
		Runnable:    runnable,
		Skipped:     skipped,
		Pending:     m.Pending,
	}
}
