package mcp

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const maxLoggedString = 200

// sensitiveParams are parameter names whose values never reach the logs. Report text
// and raw values can carry patient data.
var sensitiveParams = []string{"text", "patient", "secret"}

// ToolStats aggregates invocations of one tool.
type ToolStats struct {
	Calls         int64         `json:"calls"`
	Failures      int64         `json:"failures"`
	TotalDuration time.Duration `json:"total_duration_ns"`
}

// toolCall is one in-flight tool invocation.
type toolCall struct {
	id    string
	tool  string
	start time.Time
}

// callLogger logs tool invocations with a per-call operation ID and keeps per-tool
// counters.
type callLogger struct {
	logger *logrus.Logger
	mu     sync.Mutex
	stats  map[string]*ToolStats
}

func newCallLogger(logger *logrus.Logger) *callLogger {
	return &callLogger{logger: logger, stats: make(map[string]*ToolStats)}
}

// start records the beginning of a tool call.
func (l *callLogger) start(tool string, params logrus.Fields) toolCall {
	call := toolCall{id: uuid.New().String(), tool: tool, start: time.Now()}

	fields := logrus.Fields{
		"operation_id": call.id,
		"tool":         tool,
	}
	for k, v := range params {
		fields["param_"+k] = sanitizeParam(k, v)
	}
	l.logger.WithFields(fields).Info("Tool invoked")
	return call
}

// end records the outcome of a tool call.
func (l *callLogger) end(call toolCall, err error) {
	elapsed := time.Since(call.start)

	l.mu.Lock()
	st, ok := l.stats[call.tool]
	if !ok {
		st = &ToolStats{}
		l.stats[call.tool] = st
	}
	st.Calls++
	st.TotalDuration += elapsed
	if err != nil {
		st.Failures++
	}
	l.mu.Unlock()

	entry := l.logger.WithFields(logrus.Fields{
		"operation_id": call.id,
		"tool":         call.tool,
		"duration_ms":  elapsed.Milliseconds(),
		"success":      err == nil,
	})
	if err != nil {
		entry.WithError(err).Warn("Tool call failed")
		return
	}
	entry.Info("Tool call completed")
}

// Stats returns a snapshot of the per-tool counters.
func (l *callLogger) Stats() map[string]ToolStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]ToolStats, len(l.stats))
	for name, st := range l.stats {
		out[name] = *st
	}
	return out
}

func sanitizeParam(key string, value any) any {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveParams {
		if strings.Contains(lower, pattern) {
			if s, ok := value.(string); ok {
				return map[string]int{"redacted_length": len(s)}
			}
			return "[REDACTED]"
		}
	}
	if s, ok := value.(string); ok && len(s) > maxLoggedString {
		return s[:maxLoggedString] + "... [TRUNCATED]"
	}
	return value
}
