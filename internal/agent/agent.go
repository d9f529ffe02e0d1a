// Package agent implements the bounded investigation loop: the model
// proposes one read-only function per round, the safety governor admits
// or denies it, and the loop feeds the result back until the model
// concludes or a limit pauses the session.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aztriage/aztriage/internal/azure"
	"github.com/aztriage/aztriage/internal/llm"
	"github.com/aztriage/aztriage/internal/safety"
	"github.com/aztriage/aztriage/internal/session"
	"github.com/aztriage/aztriage/internal/tools"
)

// Request is one investigation submission. A TraceID resumes an
// existing session; an empty one starts fresh.
type Request struct {
	TraceID          string         `json:"trace_id,omitempty"`
	ErrorDescription string         `json:"error_description"`
	Context          map[string]any `json:"context,omitempty"`
}

// Status of a finished run.
type Status string

const (
	// StatusDone means the model concluded with a diagnosis.
	StatusDone Status = "done"
	// StatusContinue means the run stopped early (safety pause or
	// degraded round) and the session can be resumed by trace ID.
	StatusContinue Status = "continue"
	// StatusFail means the run ended without a usable result.
	StatusFail Status = "fail"
)

// Result is what the caller gets back from one run.
type Result struct {
	Status           Status         `json:"status"`
	TraceID          string         `json:"trace_id"`
	Message          string         `json:"message"`
	Progress         int            `json:"progress"`
	AnalysisResults  map[string]any `json:"analysis_results,omitempty"`
	DebuggingProcess []string       `json:"debugging_process,omitempty"`
	ActionsToTake    []string       `json:"actions_to_take,omitempty"`
	SessionContext   map[string]any `json:"session_context,omitempty"`
}

// Agent wires the model, the function registry, the governor, and the
// session store into the investigation loop. One Agent serves all
// sessions concurrently.
type Agent struct {
	client   llm.Client
	registry *tools.Registry
	governor *safety.Governor
	store    *session.Store
	filter   *Filter
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an agent. The now function is its clock; pass nil for
// wall-clock time.
func New(client llm.Client, registry *tools.Registry, governor *safety.Governor, store *session.Store, now func() time.Time, logger *slog.Logger) *Agent {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		client:   client,
		registry: registry,
		governor: governor,
		store:    store,
		filter:   NewFilter(),
		now:      now,
		logger:   logger,
	}
}

// Investigate runs one bounded analysis pass for the principal. New
// sessions are created in the store; a request carrying a trace ID
// resumes that session with its counters intact.
func (a *Agent) Investigate(ctx context.Context, principal string, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	req.ErrorDescription = a.filter.Redact(req.ErrorDescription)
	req.Context = a.filter.RedactMap(req.Context)

	s, fresh, err := a.resolveSession(principal, req)
	if err != nil {
		return nil, err
	}

	if s.Busy() {
		return &Result{
			Status:   StatusContinue,
			TraceID:  s.TraceID,
			Message:  "Analysis already in progress for this session",
			Progress: s.Progress(),
		}, nil
	}

	switch s.Status() {
	case session.StatusCompleted:
		return a.summaryResult(s), nil
	case session.StatusFailed:
		return &Result{
			Status:   StatusFail,
			TraceID:  s.TraceID,
			Message:  "Session previously failed; submit a new investigation",
			Progress: s.Progress(),
		}, nil
	case session.StatusPaused:
		s.Resume()
	}

	s.SetBusy(true)
	defer s.SetBusy(false)

	// Each run gets a fresh time budget; call count and depth carry
	// over so a resumed session cannot outrun its lifetime limits.
	a.governor.StartAnalysis(s)
	if fresh {
		a.logAnalysisPlan(s)
		a.logger.Info("investigation started", "trace_id", s.TraceID, "principal", principal)
	} else {
		a.logger.Info("investigation resumed", "trace_id", s.TraceID, "principal", principal, "calls", s.CallCount())
	}

	return a.run(azure.WithPrincipal(ctx, principal), s), nil
}

// resolveSession finds or creates the session for a request.
func (a *Agent) resolveSession(principal string, req Request) (*session.Session, bool, error) {
	if req.TraceID == "" {
		s, err := a.store.Create(principal, req.ErrorDescription, req.Context, "")
		if err != nil {
			return nil, false, err
		}
		return s, true, nil
	}

	s, err := a.store.Get(req.TraceID)
	if err != nil {
		return nil, false, err
	}
	if s.Principal != principal {
		// Do not leak existence of another principal's session.
		return nil, false, fmt.Errorf("%w: %s", session.ErrNotFound, req.TraceID)
	}
	return s, false, nil
}
