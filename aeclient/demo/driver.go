// Package demo runs the Always Encrypted scenarios against a store and records
// an explicit outcome for every step.
package demo

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"go-aeclient/aeclient/db"
	"go-aeclient/aeclient/errors"
	"go-aeclient/aeclient/internal/logging"
	"go-aeclient/aeclient/store"
)

// Options configures a driver
type Options struct {
	// Backend names the store in logs and the report
	Backend string
	// Writer receives the transcript; nil discards it
	Writer  io.Writer
	Metrics *db.MetricsCollector
	// Strict makes Run return an error when a step does not behave as documented
	Strict bool
	// Scenarios restricts the run to the named scenarios; empty runs all of them
	Scenarios []string
}

// Driver runs the scenarios
type Driver struct {
	opener store.Opener
	logger logging.Logger
	opts   Options
}

// NewDriver creates a driver that opens its sessions from opener
func NewDriver(opener store.Opener, logger logging.Logger, opts Options) (*Driver, error) {
	if opener == nil {
		return nil, errors.NewDBError(errors.ErrCodeInvalidConfig, "store is required", nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	names, err := ScenarioNames(opts.Scenarios)
	if err != nil {
		return nil, err
	}
	opts.Scenarios = names

	return &Driver{opener: opener, logger: logger, opts: opts}, nil
}

// ScenarioNames upper-cases and de-duplicates scenario names. An unknown name
// is an ErrCodeInvalidConfig error.
func ScenarioNames(names []string) ([]string, error) {
	known := make(map[string]bool)
	for _, sc := range Scenarios() {
		known[sc.Name] = true
	}

	var out []string
	seen := make(map[string]bool)
	for _, name := range names {
		n := strings.ToUpper(strings.TrimSpace(name))
		if !known[n] {
			return nil, errors.NewDBError(errors.ErrCodeInvalidConfig,
				fmt.Sprintf("unknown scenario %q", name), nil).
				WithUserMessage("Scenarios are A, B and C")
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}

// Run executes the scenarios in order. Step failures are recorded in the
// report and do not stop the run; a session that cannot be opened or a
// cancelled context does, and the partial report is returned with the error.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	runID := ulid.Make().String()
	ctx = logging.WithRunID(ctx, runID)

	report := newReport(runID, d.opts.Backend)
	transcript := NewTranscript(d.opts.Writer)
	logger := d.logger.With(logging.String("run_id", runID))

	logger.Info("Demo started", logging.String("backend", d.opts.Backend))

	for _, sc := range Scenarios() {
		if !d.selected(sc.Name) {
			continue
		}
		if err := d.runScenario(ctx, sc, report, transcript, logger); err != nil {
			report.Finished = time.Now()
			return report, err
		}
	}

	report.Finished = time.Now()

	if err := transcript.Err(); err != nil {
		return report, errors.WrapError(err, errors.ErrCodeInternal, "failed to write transcript")
	}

	fields := []logging.LogField{
		logging.Int("steps", len(report.Outcomes)),
		logging.Int("mismatches", report.Mismatches.Count()),
		logging.Duration("duration", report.Finished.Sub(report.Started)),
	}
	if !report.OK() {
		logger.Warn("Demo finished with mismatches", fields...)
		if d.opts.Strict {
			return report, report.Err()
		}
		return report, nil
	}

	logger.Info("Demo finished", fields...)
	return report, nil
}

func (d *Driver) selected(name string) bool {
	if len(d.opts.Scenarios) == 0 {
		return true
	}
	for _, s := range d.opts.Scenarios {
		if s == name {
			return true
		}
	}
	return false
}

func (d *Driver) runScenario(ctx context.Context, sc Scenario, report *Report, t *Transcript, logger logging.Logger) error {
	ctx = logging.WithScenario(ctx, sc.Name)
	logger = logger.With(logging.String("scenario", sc.Name))

	t.Banner(sc.Title)

	sess, err := d.opener.Open(ctx, sc.ColumnEncryption)
	if err != nil {
		logger.Error("Failed to open session", logging.ErrorField(err))
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("Failed to close session", logging.ErrorField(err))
		}
	}()

	logger.Debug("Scenario started",
		logging.String("title", sc.Title),
		logging.Bool("column_encryption", sc.ColumnEncryption),
	)

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.add(d.runStep(ctx, sc, i+1, step, sess, t, logger))
	}

	if sc.TrailingBlank {
		t.Blank()
	}
	return nil
}

func (d *Driver) runStep(ctx context.Context, sc Scenario, n int, step Step, sess store.Session, t *Transcript, logger logging.Logger) Outcome {
	metrics := d.opts.Metrics
	opLog := logging.NewOperationLogger(logger, step.Name, sc.Name).
		WithFields(
			logging.Int("step", n),
			logging.String("expected", step.Expect.String()),
		)

	ctx, span := metrics.StartTrace(ctx, sc.Name, step.Name)
	defer span.End()

	value, err := step.Exec(ctx, sess)

	o := Outcome{
		Scenario: sc.Name,
		Step:     n,
		Name:     step.Name,
		Expected: step.Expect,
		Result:   Success,
		Reason:   Classify(err),
		Err:      err,
		Value:    value,
		Duration: opLog.Elapsed(),
	}

	if err != nil {
		o.Result = Failure
		t.Failure(step.FailureMessage, err)
		metrics.RecordTraceError(span, err)
		metrics.IncrementError(step.Name, string(errors.GetErrorCode(err)))
		if o.Reason == ReasonUnsupportedOperation {
			metrics.IncrementUnsupported(sc.Name)
		}
	} else {
		if step.Print != nil {
			step.Print(t, value)
		}
		metrics.SetTraceSuccess(span)
	}

	metrics.RecordStep(sc.Name, step.Name, o.Result.String(), o.Duration)

	switch {
	case !o.Matched():
		metrics.IncrementMismatch(sc.Name, step.Name)
		opLog.WithFields(logging.String("actual", describeActual(o)))
		if err != nil {
			opLog.WithFields(logging.ErrorField(err))
		}
		opLog.Warn("Step did not behave as expected")
	case err != nil:
		opLog.Failure(step.FailureMessage, err)
	default:
		opLog.WithFields(logging.Int("rows", len(value.Rows)))
		opLog.Success("Step completed")
	}

	return o
}
