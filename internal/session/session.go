// Package session manages in-memory investigation sessions keyed by
// trace ID. A session accumulates findings, execution logs, and
// function-call history while the agent loop drives an investigation;
// the store bounds how many sessions live in memory and evicts idle
// ones. Nothing here survives a process restart by design.
package session

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a session. Completed and failed are
// terminal: once entered, no further transitions occur.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Finding is one piece of analysis output.
type Finding struct {
	Text      string    `json:"finding"`
	Severity  string    `json:"severity"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEntry is one session execution log line.
type LogEntry struct {
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// CallRecord summarizes one executed function call. Records are
// append-only; the full result lives in the latest-results map.
type CallRecord struct {
	Function      string        `json:"function"`
	Timestamp     time.Time     `json:"timestamp"`
	Duration      time.Duration `json:"duration"`
	ResultSummary string        `json:"result_summary"`
	Success       bool          `json:"success"`
}

// resultSummaryLimit truncates stored result summaries to keep the
// per-session memory estimate honest.
const resultSummaryLimit = 200

// Session is the unit of investigation state. The trace ID, principal,
// error description, and context are fixed at creation; everything else
// mutates only through methods, under the session's own lock, so
// concurrent appends from racing rounds cannot corrupt it.
type Session struct {
	TraceID          string
	Principal        string
	ErrorDescription string
	Context          map[string]any
	CreatedAt        time.Time

	now func() time.Time

	mu            sync.Mutex
	status        Status
	progress      int
	depth         int
	callCount     int
	lastActivity  time.Time
	analysisStart time.Time
	busy          bool

	logs      []LogEntry
	findings  []Finding
	calls     []CallRecord
	results   map[string]map[string]any
	resources []string
	nextSteps []string
}

// New creates an active session. The now function stamps all session
// timestamps; pass nil for wall-clock time.
func New(traceID, principal, errorDescription string, context map[string]any, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	t := now()
	return &Session{
		TraceID:          traceID,
		Principal:        principal,
		ErrorDescription: errorDescription,
		Context:          context,
		CreatedAt:        t,
		now:              now,
		status:           StatusActive,
		lastActivity:     t,
		results:          make(map[string]map[string]any),
	}
}

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
}

// StartAnalysis stamps the analysis start time. Resumed sessions keep
// their original start so the total-time budget spans resumptions only
// when the caller wants it to; the agent restamps on each Investigate.
func (s *Session) StartAnalysis() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysisStart = s.now()
	s.lastActivity = s.analysisStart
}

// AnalysisStart returns when the current analysis run began. Zero if
// analysis has not started.
func (s *Session) AnalysisStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analysisStart
}

// SetBusy marks the session as executing a round (or not). Busy
// sessions are never evicted by the store.
func (s *Session) SetBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
}

// Busy reports whether a round is currently executing on this session.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Progress returns the current progress percentage.
func (s *Session) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// UpdateProgress sets progress, clamped to [0, 100].
func (s *Session) UpdateProgress(progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = min(100, max(0, progress))
	s.lastActivity = s.now()
}

// Depth returns the current recursion depth.
func (s *Session) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// CallCount returns the number of function calls recorded so far. The
// counter never decreases.
func (s *Session) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

// IncrementCounters bumps the function-call counter and depth by one.
// Called by the safety governor when a call is recorded.
func (s *Session) IncrementCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCount++
	s.depth++
	s.lastActivity = s.now()
}

// LastActivity returns the last time the session was read or mutated.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// AddFunctionResult stores a function's result and appends a call
// record with a truncated summary. The latest result per function name
// overwrites earlier ones; the record list is append-only.
func (s *Session) AddFunctionResult(function string, result map[string]any, duration time.Duration) {
	summary := fmt.Sprintf("%v", result)
	if len(summary) > resultSummaryLimit {
		summary = summary[:resultSummaryLimit]
	}
	_, failed := result["error"]

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[function] = result
	s.calls = append(s.calls, CallRecord{
		Function:      function,
		Timestamp:     s.now(),
		Duration:      duration,
		ResultSummary: summary,
		Success:       !failed,
	})
	s.lastActivity = s.now()
}

// AddFinding appends an analysis finding.
func (s *Session) AddFinding(text, severity, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, Finding{
		Text:      text,
		Severity:  severity,
		Category:  category,
		Timestamp: s.now(),
	})
	s.lastActivity = s.now()
}

// AddLog appends an execution log entry. Level is "info", "warning",
// or "error".
func (s *Session) AddLog(message, level string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, LogEntry{
		Message:   message,
		Level:     level,
		Timestamp: s.now(),
	})
	s.lastActivity = s.now()
}

// AddResource records an Azure resource identified during analysis.
func (s *Session) AddResource(resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = append(s.resources, resource)
	s.lastActivity = s.now()
}

// SetNextSteps replaces the suggested next steps.
func (s *Session) SetNextSteps(steps []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSteps = append([]string(nil), steps...)
	s.lastActivity = s.now()
}

// MarkCompleted transitions the session to completed with full
// progress. No-op if the session is already terminal.
func (s *Session) MarkCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal() {
		return
	}
	s.status = StatusCompleted
	s.progress = 100
	s.lastActivity = s.now()
}

// MarkFailed transitions the session to failed and logs the reason.
// No-op if the session is already terminal.
func (s *Session) MarkFailed(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal() {
		return
	}
	s.status = StatusFailed
	s.logs = append(s.logs, LogEntry{
		Message:   "Session failed: " + reason,
		Level:     "error",
		Timestamp: s.now(),
	})
	s.lastActivity = s.now()
}

// MarkPaused transitions an active session to paused (safety limits
// interrupted the loop). Terminal states are left alone.
func (s *Session) MarkPaused() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal() {
		return
	}
	s.status = StatusPaused
	s.lastActivity = s.now()
}

// Resume flips a paused session back to active so the loop can
// continue. Terminal states are left alone.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal() {
		return
	}
	s.status = StatusActive
	s.lastActivity = s.now()
}

func (s *Session) terminal() bool {
	return s.status == StatusCompleted || s.status == StatusFailed
}

// Expired reports whether the session has been idle longer than the
// given window.
func (s *Session) Expired(idle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().After(s.lastActivity.Add(idle))
}

// Findings returns a copy of all findings.
func (s *Session) Findings() []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Finding(nil), s.findings...)
}

// Logs returns a copy of the execution log.
func (s *Session) Logs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogEntry(nil), s.logs...)
}

// Calls returns a copy of all function-call records.
func (s *Session) Calls() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallRecord(nil), s.calls...)
}

// RecentCalls returns up to the last n call records, oldest first.
func (s *Session) RecentCalls(n int) []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.calls) {
		n = len(s.calls)
	}
	return append([]CallRecord(nil), s.calls[len(s.calls)-n:]...)
}

// Result returns the latest stored result for a function name.
func (s *Session) Result(function string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[function]
	return r, ok
}

// Resources returns a copy of the identified resources.
func (s *Session) Resources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resources...)
}

// NextSteps returns a copy of the suggested next steps.
func (s *Session) NextSteps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.nextSteps...)
}

// MemoryEstimateMB approximates this session's memory footprint from
// the serialized size of stored results, logs, and context. It is a
// budget signal for the safety governor, not an accounting truth.
func (s *Session) MemoryEstimateMB() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	const base = 0.1 // fixed per-session overhead
	const mb = 1024 * 1024

	resultsSize := len(fmt.Sprintf("%v", s.results))
	logsSize := len(fmt.Sprintf("%v", s.logs))
	contextSize := len(fmt.Sprintf("%v", s.Context))

	return base + float64(resultsSize+logsSize+contextSize)/mb
}

// ContextForLLM is a read-only projection of session state suitable
// for inclusion in prompts and pause/degradation payloads.
func (s *Session) ContextForLLM() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	findings := s.findings
	if len(findings) > 5 {
		findings = findings[len(findings)-5:]
	}
	keyFindings := make([]string, 0, len(findings))
	for _, f := range findings {
		keyFindings = append(keyFindings, f.Text)
	}

	calls := s.calls
	if len(calls) > 3 {
		calls = calls[len(calls)-3:]
	}
	recent := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		status := "success"
		if !c.Success {
			status = "failed"
		}
		recent = append(recent, map[string]any{
			"function":  c.Function,
			"status":    status,
			"timestamp": c.Timestamp.Format(time.RFC3339),
		})
	}

	return map[string]any{
		"trace_id":              s.TraceID,
		"status":                string(s.status),
		"progress":              s.progress,
		"depth":                 s.depth,
		"function_calls_made":   len(s.calls),
		"identified_resources":  append([]string(nil), s.resources...),
		"key_findings":          keyFindings,
		"recent_function_calls": recent,
		"execution_time":        s.now().Sub(s.CreatedAt).Seconds(),
		"next_steps":            append([]string(nil), s.nextSteps...),
	}
}

// Summary is the read-only listing projection of a session.
type Summary struct {
	TraceID       string    `json:"trace_id"`
	Principal     string    `json:"principal"`
	Status        Status    `json:"status"`
	Progress      int       `json:"progress"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	FunctionCalls int       `json:"function_calls"`
	Findings      int       `json:"findings"`
}

// Summarize returns the listing projection.
func (s *Session) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		TraceID:       s.TraceID,
		Principal:     s.Principal,
		Status:        s.status,
		Progress:      s.progress,
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.lastActivity,
		FunctionCalls: len(s.calls),
		Findings:      len(s.findings),
	}
}
