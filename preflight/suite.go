// Package preflight checks that a machine can run a generation before any
// model is loaded: weights present and well formed, output directory
// writable, enough free disk, and a usable compute backend.
package preflight

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// StepStatus represents the outcome of a check.
type StepStatus int

const (
	StepPassed StepStatus = iota
	StepFailed
	StepWarning
	StepSkipped
)

// String returns the string representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// CheckResult is what a single check reports.
type CheckResult struct {
	Status  StepStatus
	Message string
	Err     error
}

// Pass, Warn, Skip and Fail build CheckResults.
func Pass(format string, args ...interface{}) CheckResult {
	return CheckResult{Status: StepPassed, Message: fmt.Sprintf(format, args...)}
}

func Warn(format string, args ...interface{}) CheckResult {
	return CheckResult{Status: StepWarning, Message: fmt.Sprintf(format, args...)}
}

func Skip(format string, args ...interface{}) CheckResult {
	return CheckResult{Status: StepSkipped, Message: fmt.Sprintf(format, args...)}
}

func Fail(err error) CheckResult {
	return CheckResult{Status: StepFailed, Err: err}
}

// CheckFunc runs one check.
type CheckFunc func() CheckResult

// Step is a completed check.
type Step struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// SuiteResult is the outcome of a whole suite run.
type SuiteResult struct {
	Steps       []Step
	TotalSteps  int
	PassedSteps int
	FailedSteps int
	Warnings    int
	Skipped     int
	Duration    time.Duration
	Success     bool
}

type namedCheck struct {
	name string
	fn   CheckFunc
	// requires names an earlier check that must pass for this one to run.
	requires string
}

// Suite runs checks in order and prints colored progress.
type Suite struct {
	title        string
	output       io.Writer
	checks       []namedCheck
	showProgress bool
	failFast     bool
}

// NewSuite creates an empty suite that prints to stdout.
func NewSuite(title string) *Suite {
	return &Suite{
		title:        title,
		output:       os.Stdout,
		showProgress: true,
	}
}

// WithOutput sets the output writer for progress messages.
func (s *Suite) WithOutput(w io.Writer) *Suite {
	s.output = w
	return s
}

// WithShowProgress enables or disables progress output.
func (s *Suite) WithShowProgress(show bool) *Suite {
	s.showProgress = show
	return s
}

// WithFailFast stops the run at the first failure.
func (s *Suite) WithFailFast(failFast bool) *Suite {
	s.failFast = failFast
	return s
}

// Add appends a check.
func (s *Suite) Add(name string, fn CheckFunc) *Suite {
	s.checks = append(s.checks, namedCheck{name: name, fn: fn})
	return s
}

// AddDependent appends a check that is skipped unless the check named
// requires passed or warned.
func (s *Suite) AddDependent(name, requires string, fn CheckFunc) *Suite {
	s.checks = append(s.checks, namedCheck{name: name, fn: fn, requires: requires})
	return s
}

// Run executes every check and returns the collected result.
func (s *Suite) Run() SuiteResult {
	start := time.Now()
	steps := make([]Step, 0, len(s.checks))
	status := make(map[string]StepStatus, len(s.checks))

	if s.showProgress {
		s.printHeader()
	}

	for _, c := range s.checks {
		var step Step
		if dep, ok := status[c.requires]; c.requires != "" && (!ok || dep == StepFailed || dep == StepSkipped) {
			step = Step{
				Name:    c.name,
				Status:  StepSkipped,
				Message: fmt.Sprintf("requires %s", strings.ToLower(c.requires)),
			}
		} else {
			step = runStep(c)
		}
		status[c.name] = step.Status
		steps = append(steps, step)

		if s.showProgress {
			s.printStep(step)
		}
		if s.failFast && step.Status == StepFailed {
			break
		}
	}

	result := buildResult(steps, start)
	if s.showProgress {
		s.printSummary(result)
	}
	return result
}

func runStep(c namedCheck) (step Step) {
	step.Name = c.name
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			step.Status = StepFailed
			step.Error = fmt.Errorf("check panicked: %v", r)
		}
		step.Latency = time.Since(start)
	}()

	res := c.fn()
	step.Status = res.Status
	step.Message = res.Message
	step.Error = res.Err
	if step.Error != nil && step.Status == StepPassed {
		step.Status = StepFailed
	}
	return step
}

func buildResult(steps []Step, start time.Time) SuiteResult {
	result := SuiteResult{
		Steps:      steps,
		TotalSteps: len(steps),
		Duration:   time.Since(start),
		Success:    true,
	}
	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			result.PassedSteps++
		case StepFailed:
			result.FailedSteps++
			result.Success = false
		case StepWarning:
			result.Warnings++
		case StepSkipped:
			result.Skipped++
		}
	}
	return result
}

func (s *Suite) printHeader() {
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", s.title)
	fmt.Fprintln(s.output)
}

func (s *Suite) printStep(step Step) {
	var icon string
	var clr *color.Color

	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	default:
		icon, clr = "?", color.New(color.FgWhite)
	}

	clr.Fprintf(s.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}
	fmt.Fprintln(s.output)

	if step.Status == StepFailed && step.Error != nil {
		color.New(color.FgRed).Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *Suite) printSummary(result SuiteResult) {
	fmt.Fprintln(s.output)
	if result.Success {
		ok := color.New(color.FgGreen, color.Bold)
		ok.Fprintf(s.output, "━━━ Ready ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d/%d checks passed, %d warnings)",
			result.PassedSteps, result.TotalSteps, result.Warnings)
		ok.Fprintln(s.output, " ━━━")
	} else {
		bad := color.New(color.FgRed, color.Bold)
		bad.Fprintf(s.output, "━━━ Not Ready ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed)",
			result.PassedSteps, result.FailedSteps)
		bad.Fprintln(s.output, " ━━━")
	}
	fmt.Fprintln(s.output)
}

// Errors returns the errors of all failed steps.
func (r SuiteResult) Errors() []error {
	errs := make([]error, 0)
	for _, step := range r.Steps {
		if step.Error != nil {
			errs = append(errs, step.Error)
		}
	}
	return errs
}

// FirstError returns the first step error, or nil.
func (r SuiteResult) FirstError() error {
	for _, step := range r.Steps {
		if step.Error != nil {
			return step.Error
		}
	}
	return nil
}

// Summary returns a one-line human-readable summary.
func (r SuiteResult) Summary() string {
	var sb strings.Builder
	if r.Success {
		sb.WriteString("Preflight passed: ")
	} else {
		sb.WriteString("Preflight failed: ")
	}
	fmt.Fprintf(&sb, "%d/%d checks passed", r.PassedSteps, r.TotalSteps)
	if r.FailedSteps > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.FailedSteps)
	}
	if r.Warnings > 0 {
		fmt.Fprintf(&sb, ", %d warnings", r.Warnings)
	}
	fmt.Fprintf(&sb, " (took %v)", r.Duration.Round(time.Millisecond))
	return sb.String()
}
