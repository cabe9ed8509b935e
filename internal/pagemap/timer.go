package pagemap

import (
	"fmt"
	"strings"
	"time"
)

// Pipeline stage names recorded by the stage timer.
const (
	StageNavigation     = "navigation"
	StageDetection      = "detection"
	StagePruning        = "pruning"
	StageFingerprint    = "fingerprint"
	StageContentRefresh = "content_refresh"
)

// stageHints maps a stage name to the guidance appended when a build
// times out inside that stage.
var stageHints = map[string]string{
	StageNavigation:     "Page may be slow to load or have long-polling connections.",
	StageDetection:      "DOM is very complex. Try scrolling to a specific section first.",
	StagePruning:        "Page has very large HTML. Consider targeting a more specific URL.",
	StageFingerprint:    "DOM fingerprint capture is stalling.",
	StageContentRefresh: "Content-only rebuild is slow. Full rebuild may be needed.",
}

// HintForStage returns the per-stage timeout guidance.
func HintForStage(stage string) string {
	if h, ok := stageHints[stage]; ok {
		return h
	}
	return fmt.Sprintf("Timed out during '%s' stage.", stage)
}

type stageRecord struct {
	name  string
	start time.Time
	end   time.Time
}

// StageTimer tracks pipeline stage transitions. It is created outside
// the build's deadline so a cancelled pipeline can still report which
// stage it died in. Not safe for concurrent use; one timer per build.
type StageTimer struct {
	stages  []stageRecord
	current *stageRecord
	start   time.Time
}

// NewStageTimer starts the overall clock.
func NewStageTimer() *StageTimer {
	return &StageTimer{start: time.Now()}
}

// Stage ends the previous stage and starts a new one.
func (t *StageTimer) Stage(name string) {
	now := time.Now()
	if t.current != nil {
		t.current.end = now
		t.stages = append(t.stages, *t.current)
	}
	t.current = &stageRecord{name: name, start: now}
}

// Finalize ends the current stage. Call on success or error.
func (t *StageTimer) Finalize() {
	if t.current == nil {
		return
	}
	t.current.end = time.Now()
	t.stages = append(t.stages, *t.current)
	t.current = nil
}

// CurrentStage is the name of the running stage, or "" when none runs.
func (t *StageTimer) CurrentStage() string {
	if t.current == nil {
		return ""
	}
	return t.current.name
}

func roundMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// ElapsedPerStage returns stage_name -> elapsed_ms including the
// running stage.
func (t *StageTimer) ElapsedPerStage() map[string]float64 {
	out := make(map[string]float64, len(t.stages)+1)
	for _, s := range t.stages {
		out[s.name] = roundMS(s.end.Sub(s.start))
	}
	if t.current != nil {
		out[t.current.name] = roundMS(time.Since(t.current.start))
	}
	return out
}

// TimeoutReport is the structured diagnostic returned when a build
// exceeds its wall clock.
type TimeoutReport struct {
	Error           string             `json:"error"`
	CompletedStages []CompletedStage   `json:"completed_stages"`
	TimedOutAt      string             `json:"timed_out_at"`
	TimedOutStageMS float64            `json:"timed_out_stage_ms"`
	TotalMS         float64            `json:"total_ms"`
	Hint            string             `json:"hint"`
	StageTimings    map[string]float64 `json:"-"`
}

// CompletedStage is one finished stage in a timeout report.
type CompletedStage struct {
	Stage string  `json:"stage"`
	MS    float64 `json:"ms"`
}

// Report assembles the timeout diagnostic for the stage the pipeline
// was in when its deadline expired.
func (t *StageTimer) Report() TimeoutReport {
	now := time.Now()
	completed := make([]CompletedStage, 0, len(t.stages))
	for _, s := range t.stages {
		completed = append(completed, CompletedStage{Stage: s.name, MS: roundMS(s.end.Sub(s.start))})
	}
	current := "unknown"
	var currentMS float64
	if t.current != nil {
		current = t.current.name
		currentMS = roundMS(now.Sub(t.current.start))
	}
	return TimeoutReport{
		Error:           "timeout",
		CompletedStages: completed,
		TimedOutAt:      current,
		TimedOutStageMS: currentMS,
		TotalMS:         roundMS(now.Sub(t.start)),
		Hint:            HintForStage(current),
		StageTimings:    t.ElapsedPerStage(),
	}
}

// Text renders the report as the user-visible timeout message.
func (r TimeoutReport) Text(tool string, timeout time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s timed out after %.0fs during the %s stage. %s",
		tool, timeout.Seconds(), r.TimedOutAt, r.Hint)
	if len(r.CompletedStages) > 0 {
		names := make([]string, 0, len(r.CompletedStages))
		for _, s := range r.CompletedStages {
			names = append(names, fmt.Sprintf("%s %.0fms", s.Stage, s.MS))
		}
		fmt.Fprintf(&b, " Completed: %s.", strings.Join(names, ", "))
	}
	return b.String()
}
