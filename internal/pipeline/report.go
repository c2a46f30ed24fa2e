package pipeline

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap/zapcore"

	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/dimension"
	"github.com/ajitpratap0/starload/pkg/errors"
	"github.com/ajitpratap0/starload/pkg/fact"
)

// Run statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Report summarizes one run
type Report struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Warehouse string    `json:"warehouse"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`

	DurationSeconds float64 `json:"duration_seconds"`
	ConnectAttempts int     `json:"connect_attempts,omitempty"`

	Sources    map[string]int      `json:"sources,omitempty"`
	Records    int                 `json:"records"`
	Conform    map[string]int      `json:"conform_events,omitempty"`
	Dimensions []*dimension.Result `json:"dimensions,omitempty"`
	Facts      *fact.Result        `json:"facts,omitempty"`

	FailedStage string `json:"failed_stage,omitempty"`
	System      string `json:"system,omitempty"`
	Error       string `json:"error,omitempty"`
}

func newReport(runID string, cfg *config.Config) *Report {
	return &Report{
		RunID:     runID,
		Name:      cfg.Name,
		Warehouse: cfg.Warehouse.WarehouseIdentity(),
		StartedAt: time.Now().UTC(),
	}
}

func (r *Report) finish(err error) {
	r.DurationSeconds = time.Since(r.StartedAt).Seconds()
	if err == nil {
		r.Status = StatusSuccess
		return
	}
	r.Status = StatusFailed
	r.Error = err.Error()
	var se *StageError
	if errors.As(err, &se) {
		r.FailedStage = se.Stage
		r.System = se.System
	}
}

// JSON encodes the report for the CLI
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// MarshalLogObject logs the report counts
func (r *Report) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("run_id", r.RunID)
	enc.AddString("status", r.Status)
	enc.AddInt("records", r.Records)
	for _, d := range r.Dimensions {
		enc.AddInt(d.Dimension+"_inserted", d.Inserted)
	}
	if r.Facts != nil {
		enc.AddInt("facts_inserted", r.Facts.Inserted)
		enc.AddInt("facts_existing", r.Facts.Existing)
		enc.AddInt("facts_unresolved", r.Facts.Unresolved)
	}
	enc.AddFloat64("duration_seconds", r.DurationSeconds)
	return nil
}

// StageError is the fatal error of a run, naming the stage that failed and
// the external system involved, if any.
type StageError struct {
	Stage  string
	System string
	Err    error
}

func stageError(stage string, err error) *StageError {
	se := &StageError{Stage: stage, Err: err}
	var typed *errors.Error
	if errors.As(err, &typed) {
		if system, ok := typed.Detail("system").(string); ok {
			se.System = system
		} else if location, ok := typed.Detail("location").(string); ok {
			se.System = location
		}
	}
	return se
}

func (e *StageError) Error() string {
	if e.System != "" {
		return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.System, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
