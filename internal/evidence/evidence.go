// Package evidence evaluates capability-satisfaction predicates against
// a workspace. Skills declare artifacts ("a test file exists", "the
// build passes") and profiles declare completion requirements; both are
// predicates routed through the registry here. Evaluation never panics:
// an evaluator failure yields an unsatisfied result carrying the error.
package evidence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"skillgate/internal/config"
	"skillgate/internal/logging"
)

// DefaultCommandTimeout bounds command_success predicates that do not
// declare their own timeout.
const DefaultCommandTimeout = 30 * time.Second

// Request carries one predicate evaluation. Satisfied lists the
// capability names already recorded in the session, which is the input
// for manual predicates.
type Request struct {
	Workspace string
	Predicate config.Predicate
	Satisfied map[string]bool
}

// Result is the outcome of one predicate evaluation. Err is set when the
// evaluation itself failed (bad pattern, timeout); the predicate then
// counts as unsatisfied.
type Result struct {
	Satisfied    bool
	EvidenceType string
	Details      string
	Err          error
}

// EvidenceError wraps an evaluator failure with the predicate it hit.
type EvidenceError struct {
	Predicate string
	Err       error
}

func (e *EvidenceError) Error() string {
	return fmt.Sprintf("evidence check failed for %s: %v", e.Predicate, e.Err)
}

func (e *EvidenceError) Unwrap() error { return e.Err }

// Evaluator checks one family of predicate types.
type Evaluator interface {
	// CanEvaluate reports whether this evaluator handles the predicate type.
	CanEvaluate(predicateType string) bool

	// Evaluate runs the predicate. Implementations return failures inside
	// the Result rather than panicking.
	Evaluate(ctx context.Context, req Request) Result

	// Name identifies the evaluator in logs.
	Name() string
}

// Registry dispatches predicates to their evaluators by type.
type Registry struct {
	mu         sync.RWMutex
	evaluators []Evaluator
	// byType caches evaluator lookup per predicate type
	byType map[string]Evaluator
}

// NewRegistry returns a registry with the standard evaluators installed:
// file_exists, marker_found, command_success, and manual.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Evaluator)}
	r.Register(&fileExistsEvaluator{})
	r.Register(&markerFoundEvaluator{})
	r.Register(&commandSuccessEvaluator{})
	r.Register(&manualEvaluator{})
	return r
}

// Register adds an evaluator and invalidates the type cache.
func (r *Registry) Register(e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators = append(r.evaluators, e)
	r.byType = make(map[string]Evaluator)
}

func (r *Registry) evaluatorFor(predicateType string) Evaluator {
	r.mu.RLock()
	if cached, ok := r.byType[predicateType]; ok {
		r.mu.RUnlock()
		return cached
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.byType[predicateType]; ok {
		return cached
	}
	for _, e := range r.evaluators {
		if e.CanEvaluate(predicateType) {
			r.byType[predicateType] = e
			return e
		}
	}
	return nil
}

// Check evaluates one predicate. Unknown predicate types are unsatisfied
// with an error, never fatal: a typo in skills.yaml should not brick the
// hook path (validation catches it at load time anyway).
func (r *Registry) Check(ctx context.Context, req Request) Result {
	pred := req.Predicate
	eval := r.evaluatorFor(pred.Type)
	if eval == nil {
		return Result{
			EvidenceType: pred.Type,
			Err:          &EvidenceError{Predicate: pred.Describe(), Err: fmt.Errorf("no evaluator for predicate type %q", pred.Type)},
		}
	}

	timer := logging.StartTimer(logging.CategoryEvidence, "check "+pred.Type)
	res := eval.Evaluate(ctx, req)
	timer.Stop()

	if res.Err != nil {
		logging.EvidenceWarn("%s unsatisfied with error: %v", pred.Describe(), res.Err)
	} else {
		logging.EvidenceDebug("%s satisfied=%v details=%s", pred.Describe(), res.Satisfied, res.Details)
	}
	return res
}

func failure(pred config.Predicate, err error) Result {
	return Result{
		EvidenceType: pred.Type,
		Err:          &EvidenceError{Predicate: pred.Describe(), Err: err},
	}
}
