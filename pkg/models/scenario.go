package models

// Scenario is a scripted sequence of interactions applied to a running pipeline.
// Scenarios are parsed elsewhere and only queried here.
type Scenario interface {
	Name() string
	// Path of the scenario file, empty for built-in scenarios
	Path() string
	// Duration in ticks
	Duration() int64
	NeedsClockSync() bool
	DoesReversePlayback() bool
	IsCompatible(d MediaDescriptor) bool
}

// ExecutionName is what gets passed to the validation tool to select the scenario
func ExecutionName(s Scenario) string {
	if s.Path() != "" {
		return s.Path()
	}
	return s.Name()
}

// IsCompatible reports whether a test may combine d and s. A nil scenario
// means raw pipeline only and is compatible with everything.
func IsCompatible(d MediaDescriptor, s Scenario) bool {
	if s == nil || d == nil {
		return true
	}
	return s.IsCompatible(d)
}
