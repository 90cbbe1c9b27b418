// Audit logging for enforcement decisions. Every routing, activation, and
// hook verdict is written as one JSON line so a workspace owner can replay
// why a tool call was blocked or a session was activated.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Routing events
	AuditRouteDecision AuditEventType = "route_decision"

	// Activation events
	AuditActivationNew        AuditEventType = "activation_new"
	AuditActivationIdempotent AuditEventType = "activation_idempotent"
	AuditActivationSkip       AuditEventType = "activation_skip"
	AuditActivationError      AuditEventType = "activation_error"

	// Pre-tool-use hook events
	AuditToolAllow AuditEventType = "tool_allow"
	AuditToolBlock AuditEventType = "tool_block"
	AuditToolWarn  AuditEventType = "tool_warn"

	// Stop hook events
	AuditStopAllow AuditEventType = "stop_allow"
	AuditStopBlock AuditEventType = "stop_block"

	// Evidence events
	AuditEvidenceCheck     AuditEventType = "evidence_check"
	AuditEvidenceSatisfied AuditEventType = "evidence_satisfied"
	AuditEvidenceError     AuditEventType = "evidence_error"

	// Session events
	AuditSessionCreate  AuditEventType = "session_create"
	AuditSessionUpdate  AuditEventType = "session_update"
	AuditSessionClear   AuditEventType = "session_clear"
	AuditSessionCorrupt AuditEventType = "session_corrupt"

	// Middleware events
	AuditResponseAccept AuditEventType = "response_accept"
	AuditResponseReject AuditEventType = "response_reject"
	AuditRetryExhausted AuditEventType = "retry_exhausted"

	// Config events
	AuditConfigLoaded     AuditEventType = "config_loaded"
	AuditValidationFailed AuditEventType = "validation_failed"

	// Performance
	AuditPerfMetric AuditEventType = "perf_metric"
	AuditPerfSlow   AuditEventType = "perf_slow"

	// Error events
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorCritical AuditEventType = "error_critical"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`      // Unix milliseconds
	EventType  AuditEventType         `json:"event"`   // Event discriminator
	Category   string                 `json:"cat"`     // Log category
	SessionID  string                 `json:"session"` // Session correlation
	RequestID  string                 `json:"req"`     // Request correlation
	Target     string                 `json:"target"`  // Target of operation (tool, skill, file)
	Action     string                 `json:"action"`  // Action being performed
	Success    bool                   `json:"success"` // Operation succeeded / was allowed
	DurationMs int64                  `json:"dur_ms"`  // Duration in milliseconds
	Error      string                 `json:"error"`   // Error message if failed
	Message    string                 `json:"msg"`     // Human-readable message
	Fields     map[string]interface{} `json:"fields"`  // Additional structured fields
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging
type AuditLogger struct {
	sessionID string
	requestID string
	category  Category
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.jsonl", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithSession creates an audit logger scoped to a session
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// AuditWithRequest creates an audit logger scoped to an external request id
func AuditWithRequest(requestID string) *AuditLogger {
	return &AuditLogger{requestID: requestID}
}

// AuditWithContext creates a fully-scoped audit logger
func AuditWithContext(sessionID, requestID string, category Category) *AuditLogger {
	return &AuditLogger{
		sessionID: sessionID,
		requestID: requestID,
		category:  category,
	}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event. Failures here never fail the audited operation.
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	// Fill in defaults
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" && a.sessionID != "" {
		event.SessionID = a.sessionID
	}
	if event.RequestID == "" && a.requestID != "" {
		event.RequestID = a.requestID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// RouteDecision logs a semantic routing decision
func (a *AuditLogger) RouteDecision(query, mode string, topScore float64, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditRouteDecision,
		Category:   string(CategoryRouter),
		Action:     mode,
		Target:     query,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"top_score": topScore},
		Message:    fmt.Sprintf("Routed to %s (top=%.3f, %dms)", mode, topScore, durationMs),
	})
}

// Activation logs a chain activation outcome
func (a *AuditLogger) Activation(eventType AuditEventType, profileID string, chain []string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryActivation),
		Target:    profileID,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"chain": chain},
		Message:   fmt.Sprintf("Activation %s: profile=%s chain=%v", eventType, profileID, chain),
	})
}

// ToolCheck logs a pre-tool-use verdict
func (a *AuditLogger) ToolCheck(tool string, intents []string, allowed bool, reason string) {
	eventType := AuditToolAllow
	if !allowed {
		eventType = AuditToolBlock
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryHooks),
		Target:    tool,
		Success:   allowed,
		Fields:    map[string]interface{}{"intents": intents, "reason": reason},
		Message:   fmt.Sprintf("Tool %s: %s (%s)", eventType, tool, reason),
	})
}

// ToolWarn logs an advisory downgrade (would block under strict)
func (a *AuditLogger) ToolWarn(tool string, intents []string, reason string) {
	a.Log(AuditEvent{
		EventType: AuditToolWarn,
		Category:  string(CategoryHooks),
		Target:    tool,
		Success:   true,
		Fields:    map[string]interface{}{"intents": intents, "reason": reason},
		Message:   fmt.Sprintf("Tool warned: %s (%s)", tool, reason),
	})
}

// StopCheck logs a stop-hook verdict
func (a *AuditLogger) StopCheck(allowed bool, missing []string) {
	eventType := AuditStopAllow
	if !allowed {
		eventType = AuditStopBlock
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryHooks),
		Success:   allowed,
		Fields:    map[string]interface{}{"missing": missing},
		Message:   fmt.Sprintf("Stop %s (missing=%d)", eventType, len(missing)),
	})
}

// EvidenceCheck logs an evidence predicate evaluation
func (a *AuditLogger) EvidenceCheck(capability, evidenceType string, satisfied bool, detail string) {
	eventType := AuditEvidenceCheck
	if satisfied {
		eventType = AuditEvidenceSatisfied
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryEvidence),
		Target:    capability,
		Action:    evidenceType,
		Success:   satisfied,
		Fields:    map[string]interface{}{"detail": detail},
		Message:   fmt.Sprintf("Evidence %s via %s: satisfied=%v", capability, evidenceType, satisfied),
	})
}

// SessionEvent logs session lifecycle events
func (a *AuditLogger) SessionEvent(eventType AuditEventType, sessionID, profileID string) {
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategorySession),
		SessionID: sessionID,
		Target:    profileID,
		Success:   true,
		Message:   fmt.Sprintf("Session %s: %s (profile=%s)", eventType, sessionID, profileID),
	})
}

// ResponseCheck logs a middleware accept/reject decision
func (a *AuditLogger) ResponseCheck(accepted bool, attempt, maxRetries int, missing []string) {
	eventType := AuditResponseAccept
	if !accepted {
		eventType = AuditResponseReject
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryMiddleware),
		Success:   accepted,
		Fields: map[string]interface{}{
			"attempt":     attempt,
			"max_retries": maxRetries,
			"missing":     missing,
		},
		Message: fmt.Sprintf("Response %s (attempt %d/%d)", eventType, attempt, maxRetries),
	})
}

// RetryExhausted logs a terminal middleware failure
func (a *AuditLogger) RetryExhausted(attempt int, lastReason string) {
	a.Log(AuditEvent{
		EventType: AuditRetryExhausted,
		Category:  string(CategoryMiddleware),
		Success:   false,
		Error:     lastReason,
		Fields:    map[string]interface{}{"attempt": attempt},
		Message:   fmt.Sprintf("Retries exhausted after %d attempts", attempt),
	})
}

// PerfMetric logs a performance metric
func (a *AuditLogger) PerfMetric(operation string, durationMs int64, threshold int64) {
	eventType := AuditPerfMetric
	success := true
	if threshold > 0 && durationMs > threshold {
		eventType = AuditPerfSlow
		success = false
	}
	fields := map[string]interface{}{}
	if threshold > 0 {
		fields["threshold_ms"] = threshold
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Action:     operation,
		DurationMs: durationMs,
		Success:    success,
		Fields:     fields,
		Message:    fmt.Sprintf("Perf: %s took %dms (threshold=%dms)", operation, durationMs, threshold),
	})
}

// Error logs an error event
func (a *AuditLogger) Error(category string, err error, critical bool) {
	eventType := AuditErrorGeneric
	if critical {
		eventType = AuditErrorCritical
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  category,
		Success:   false,
		Error:     errMsg,
		Message:   fmt.Sprintf("Error in %s: %s (critical=%v)", category, errMsg, critical),
	})
}
