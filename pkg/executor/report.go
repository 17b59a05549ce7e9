package executor

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pthm/remigrate/internal/table"
	"github.com/pthm/remigrate/internal/verify"
)

// Status is the outcome of one migration file.
type Status int

const (
	// StatusNotAttempted marks files after a failure, and every file of a
	// dry run.
	StatusNotAttempted Status = iota
	// StatusSuccess marks a committed file.
	StatusSuccess
	// StatusFailed marks the file that halted the batch.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "not attempted"
	}
}

// Result is the outcome of one migration file.
type Result struct {
	File     string
	Status   Status
	Duration time.Duration

	// Err is the driver error for a failed file; Message is its rendering
	// with SQLSTATE, line and hints.
	Err     error
	Message string

	// FailedSQLPath is where the attempted SQL was saved, if anywhere.
	FailedSQLPath string

	// Rewrites is the number of statements the rewriter changed.
	Rewrites int

	// Verification is set when verification ran after commit.
	Verification *verify.Report
}

// Report is the outcome of a batch.
type Report struct {
	Results  []Result
	Warnings []string
	DryRun   bool
	Duration time.Duration
}

// Failed returns the failing result, or nil if nothing failed.
func (r *Report) Failed() *Result {
	for i := range r.Results {
		if r.Results[i].Status == StatusFailed {
			return &r.Results[i]
		}
	}
	return nil
}

// Counts returns the number of files per outcome.
func (r *Report) Counts() (succeeded, failed, notAttempted int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess:
			succeeded++
		case StatusFailed:
			failed++
		default:
			notAttempted++
		}
	}
	return succeeded, failed, notAttempted
}

// Print writes per-file lines followed by a summary table.
func (r *Report) Print(w io.Writer, verbose bool) {
	for _, warning := range r.Warnings {
		_, _ = fmt.Fprintf(w, "WARNING: %s\n", warning)
	}

	for _, res := range r.Results {
		switch {
		case r.DryRun:
			_, _ = fmt.Fprintf(w, "DRY-RUN: %s (%d statements rewritten)\n", res.File, res.Rewrites)
		case res.Status == StatusSuccess:
			_, _ = fmt.Fprintf(w, "SUCCESS: %s\n", res.File)
		case res.Status == StatusFailed:
			_, _ = fmt.Fprintf(w, "FAILED: %s\n", res.File)
			for _, line := range strings.Split(res.Message, "\n") {
				_, _ = fmt.Fprintf(w, "  %s\n", line)
			}
			if res.FailedSQLPath != "" {
				_, _ = fmt.Fprintf(w, "  Attempted SQL saved to %s\n", res.FailedSQLPath)
			}
		default:
			_, _ = fmt.Fprintf(w, "SKIPPED: %s\n", res.File)
		}
		if res.Verification != nil {
			res.Verification.Print(w, verbose)
		}
	}

	if len(r.Results) == 0 {
		_, _ = fmt.Fprintln(w, "No migrations to apply")
		return
	}

	_, _ = fmt.Fprintln(w)
	data := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		duration := ""
		if res.Status != StatusNotAttempted {
			duration = res.Duration.Round(time.Millisecond).String()
		}
		verification := ""
		if v := res.Verification; v != nil {
			verification = fmt.Sprintf("%d/%d/%d", v.Passed, v.Warnings, v.Errors)
		}
		data = append(data, []string{res.File, res.Status.String(), fmt.Sprint(res.Rewrites), duration, verification})
	}
	_ = table.Render(w, []string{"File", "Status", "Rewrites", "Duration", "Verify (ok/warn/fail)"}, data)

	succeeded, failed, notAttempted := r.Counts()
	_, _ = fmt.Fprintf(w, "\nSummary: %d succeeded, %d failed, %d not attempted in %s\n",
		succeeded, failed, notAttempted, r.Duration.Round(time.Millisecond))
}
