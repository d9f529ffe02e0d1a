// Package safety bounds autonomous investigation sessions. The
// governor decides when a session must stop (time, call count, depth,
// loop detection, memory) and whether an individual function call may
// proceed (rate limit, argument screening, repetition). It never
// executes anything itself; it only admits or denies.
package safety

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/aztriage/aztriage/internal/session"
)

// Limits is the immutable set of bounds applied to every session.
type Limits struct {
	// MaxTotalTime caps wall-clock time per analysis run.
	MaxTotalTime time.Duration
	// MaxFunctionTime caps a single function execution.
	MaxFunctionTime time.Duration
	// MaxFunctionCalls caps recorded calls per session.
	MaxFunctionCalls int
	// MaxAPICallsPerMinute caps calls across all sessions in a rolling
	// 60-second window.
	MaxAPICallsPerMinute int
	// MaxMemoryUsageMB caps the estimated per-session footprint.
	MaxMemoryUsageMB float64
	// MaxDepth caps recursion depth.
	MaxDepth int
	// MaxRetryAttempts caps LLM call retries within a round.
	MaxRetryAttempts int
	// MaxRepeatedFunctions caps how often one function may appear in
	// the recent call window before the loop detector trips.
	MaxRepeatedFunctions int
}

// DefaultLimits returns limits tuned for interactive callers: the whole
// investigation must finish inside a typical client timeout.
func DefaultLimits() Limits {
	return Limits{
		MaxTotalTime:         40 * time.Second,
		MaxFunctionTime:      8 * time.Second,
		MaxFunctionCalls:     8,
		MaxAPICallsPerMinute: 30,
		MaxMemoryUsageMB:     50.0,
		MaxDepth:             5,
		MaxRetryAttempts:     2,
		MaxRepeatedFunctions: 3,
	}
}

// resourceIDFunctions are the registry functions whose resource_id
// argument must be a structurally valid ARM resource ID before it may
// reach the Azure client.
var resourceIDFunctions = map[string]bool{
	"get_azure_resource_status":  true,
	"query_azure_logs":           true,
	"check_resource_permissions": true,
}

// resourceIDPattern is the minimal ARM resource ID shape:
// /subscriptions/{sub}/resourceGroups/{rg}/providers/{ns}/{type}/{name}.
var resourceIDPattern = regexp.MustCompile(`^/subscriptions/[^/]+/resourceGroups/[^/]+/providers/[^/]+/.+`)

// injectionPatterns is a conservative deny-list for string arguments.
// It blocks the common classes of payload (script tags, command
// substitution, pipes and chaining, code-execution keywords); it is
// not a security boundary against a determined adversary.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:`),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)exec\(`),
	regexp.MustCompile(`(?i)system\(`),
	regexp.MustCompile(`(?i)shell_exec\(`),
	regexp.MustCompile("`.*`"),
	regexp.MustCompile(`\|\s*\w+`),
	regexp.MustCompile(`&&\s*\w+`),
	regexp.MustCompile(`;\s*\w+`),
}

// Governor enforces Limits across concurrent sessions. The rolling
// API-call window is shared by all sessions and guarded by its own
// mutex; per-session counters live on the sessions themselves.
type Governor struct {
	limits Limits
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	apiCallTimes []time.Time
}

// NewGovernor creates a governor. The now function is its clock; pass
// nil for wall-clock time.
func NewGovernor(limits Limits, now func() time.Time, logger *slog.Logger) *Governor {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{limits: limits, logger: logger, now: now}
}

// Limits returns the configured limits.
func (g *Governor) Limits() Limits { return g.limits }

// StartAnalysis initializes safety tracking for a session run.
func (g *Governor) StartAnalysis(s *session.Session) {
	s.StartAnalysis()
	s.AddLog("Safety controls initialized", "info")
	g.logger.Info("safety controls started", "trace_id", s.TraceID)
}

// ShouldStop reports whether the session must stop. Checks run in a
// fixed order (elapsed time, call count, depth, loop detection, then
// memory) and the first trigger is logged onto the session.
func (g *Governor) ShouldStop(s *session.Session) bool {
	if g.timeExceeded(s) {
		return true
	}
	if g.callLimitExceeded(s) {
		return true
	}
	if g.depthExceeded(s) {
		return true
	}
	if g.loopDetected(s) {
		return true
	}
	if g.memoryExceeded(s) {
		return true
	}
	return false
}

// CheckFunctionSafety decides whether one function call may proceed.
// Returns (false, reason) on denial. Denials are recoverable: the loop
// reports them to the model as function results and continues.
func (g *Governor) CheckFunctionSafety(name string, args map[string]any, s *session.Session) (bool, string) {
	if g.ShouldStop(s) {
		return false, "session safety limits exceeded"
	}

	if g.rateLimited() {
		return false, "API rate limit exceeded"
	}

	if resourceIDFunctions[name] {
		resourceID, _ := args["resource_id"].(string)
		if !ValidResourceID(resourceID) {
			return false, fmt.Sprintf("invalid Azure resource ID: %q", resourceID)
		}
	}

	if key, bad := g.detectInjection(args); bad {
		g.logger.Warn("potentially unsafe argument detected", "trace_id", s.TraceID, "function", name, "argument", key)
		return false, "potentially unsafe arguments detected"
	}

	if g.repeatedTooOften(name, s) {
		g.logger.Warn("function called too often", "trace_id", s.TraceID, "function", name)
		return false, fmt.Sprintf("function %s called too many times", name)
	}

	return true, ""
}

// RecordFunctionCall accounts for an executed call: bumps the session
// counters, stamps the shared rate window, and logs the execution. A
// result carrying an "error" key gets an additional warning log entry.
func (g *Governor) RecordFunctionCall(s *session.Session, name string, duration time.Duration, result map[string]any) {
	s.IncrementCounters()

	now := g.now()
	g.mu.Lock()
	g.apiCallTimes = append(g.apiCallTimes, now)
	g.pruneWindowLocked(now)
	g.mu.Unlock()

	s.AddLog(fmt.Sprintf("Function executed: %s (time: %.2fs)", name, duration.Seconds()), "info")
	if errVal, ok := result["error"]; ok {
		s.AddLog(fmt.Sprintf("Function error: %v", errVal), "warning")
	}

	g.logger.Debug("function call recorded", "trace_id", s.TraceID, "function", name)
}

// Status is a read-only projection of a session's counters against
// their limits.
type Status struct {
	TraceID           string  `json:"session_id"`
	ElapsedSeconds    float64 `json:"elapsed_time"`
	TimeLimitSeconds  float64 `json:"time_limit"`
	FunctionCalls     int     `json:"function_calls"`
	FunctionLimit     int     `json:"function_limit"`
	Depth             int     `json:"depth"`
	DepthLimit        int     `json:"depth_limit"`
	MemoryEstimateMB  float64 `json:"memory_estimate_mb"`
	MemoryLimitMB     float64 `json:"memory_limit_mb"`
	APICallsLastMin   int     `json:"api_calls_last_minute"`
	APILimitPerMinute int     `json:"api_limit_per_minute"`
	ShouldStop        bool    `json:"should_stop"`
}

// GetSafetyStatus snapshots a session's safety counters.
func (g *Governor) GetSafetyStatus(s *session.Session) Status {
	var elapsed float64
	if start := s.AnalysisStart(); !start.IsZero() {
		elapsed = g.now().Sub(start).Seconds()
	}

	g.mu.Lock()
	g.pruneWindowLocked(g.now())
	recent := len(g.apiCallTimes)
	g.mu.Unlock()

	return Status{
		TraceID:           s.TraceID,
		ElapsedSeconds:    elapsed,
		TimeLimitSeconds:  g.limits.MaxTotalTime.Seconds(),
		FunctionCalls:     s.CallCount(),
		FunctionLimit:     g.limits.MaxFunctionCalls,
		Depth:             s.Depth(),
		DepthLimit:        g.limits.MaxDepth,
		MemoryEstimateMB:  s.MemoryEstimateMB(),
		MemoryLimitMB:     g.limits.MaxMemoryUsageMB,
		APICallsLastMin:   recent,
		APILimitPerMinute: g.limits.MaxAPICallsPerMinute,
		ShouldStop:        g.ShouldStop(s),
	}
}

// ValidResourceID reports whether a string has the required ARM
// resource ID structure.
func ValidResourceID(resourceID string) bool {
	if resourceID == "" {
		return false
	}
	return resourceIDPattern.MatchString(resourceID)
}

func (g *Governor) timeExceeded(s *session.Session) bool {
	start := s.AnalysisStart()
	if start.IsZero() {
		return false
	}
	elapsed := g.now().Sub(start)
	if elapsed > g.limits.MaxTotalTime {
		s.AddLog(fmt.Sprintf("Time limit exceeded: %.2fs > %.0fs", elapsed.Seconds(), g.limits.MaxTotalTime.Seconds()), "warning")
		g.logger.Warn("time limit exceeded", "trace_id", s.TraceID, "elapsed", elapsed)
		return true
	}
	return false
}

func (g *Governor) callLimitExceeded(s *session.Session) bool {
	count := s.CallCount()
	if count >= g.limits.MaxFunctionCalls {
		s.AddLog(fmt.Sprintf("Function call limit exceeded: %d >= %d", count, g.limits.MaxFunctionCalls), "warning")
		g.logger.Warn("function call limit exceeded", "trace_id", s.TraceID, "count", count)
		return true
	}
	return false
}

func (g *Governor) depthExceeded(s *session.Session) bool {
	depth := s.Depth()
	if depth >= g.limits.MaxDepth {
		s.AddLog(fmt.Sprintf("Analysis depth limit exceeded: %d >= %d", depth, g.limits.MaxDepth), "warning")
		g.logger.Warn("depth limit exceeded", "trace_id", s.TraceID, "depth", depth)
		return true
	}
	return false
}

// loopDetected trips when any single function name appears more than
// MaxRepeatedFunctions times among the five most recent call records.
func (g *Governor) loopDetected(s *session.Session) bool {
	recent := s.RecentCalls(5)
	if len(recent) < 3 {
		return false
	}

	counts := make(map[string]int, len(recent))
	for _, c := range recent {
		counts[c.Function]++
	}
	for fn, count := range counts {
		if count > g.limits.MaxRepeatedFunctions {
			s.AddLog(fmt.Sprintf("Infinite loop detected: %s called %d times recently", fn, count), "warning")
			g.logger.Warn("infinite loop detected", "trace_id", s.TraceID, "function", fn, "count", count)
			return true
		}
	}
	return false
}

func (g *Governor) memoryExceeded(s *session.Session) bool {
	estimate := s.MemoryEstimateMB()
	if estimate > g.limits.MaxMemoryUsageMB {
		s.AddLog(fmt.Sprintf("Memory limit exceeded: %.2fMB > %.2fMB", estimate, g.limits.MaxMemoryUsageMB), "warning")
		g.logger.Warn("memory limit exceeded", "trace_id", s.TraceID, "estimate_mb", estimate)
		return true
	}
	return false
}

// rateLimited reports whether the rolling 60-second window is full.
func (g *Governor) rateLimited() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneWindowLocked(g.now())
	if len(g.apiCallTimes) >= g.limits.MaxAPICallsPerMinute {
		g.logger.Warn("API rate limit exceeded", "calls_last_minute", len(g.apiCallTimes))
		return true
	}
	return false
}

// pruneWindowLocked drops timestamps older than one minute. Caller
// holds g.mu.
func (g *Governor) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := g.apiCallTimes[:0]
	for _, ts := range g.apiCallTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.apiCallTimes = kept
}

// detectInjection scans string-valued arguments against the deny-list.
// Returns the offending key when a pattern matches.
func (g *Governor) detectInjection(args map[string]any) (string, bool) {
	for key, value := range args {
		str, ok := value.(string)
		if !ok {
			continue
		}
		for _, pattern := range injectionPatterns {
			if pattern.MatchString(str) {
				return key, true
			}
		}
	}
	return "", false
}

// repeatedTooOften reports whether this function already appears more
// than MaxRepeatedFunctions times among the last ten call records.
func (g *Governor) repeatedTooOften(name string, s *session.Session) bool {
	count := 0
	for _, c := range s.RecentCalls(10) {
		if c.Function == name {
			count++
		}
	}
	return count > g.limits.MaxRepeatedFunctions
}
