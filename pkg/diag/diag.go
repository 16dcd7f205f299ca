// Package diag provides soft error reporting for conditions that are
// destined to become hard errors. A soft error is logged and swallowed by
// default; escalation config can upgrade selected categories (or all of
// them) into returned hard errors so rollouts can be staged.
//
// The Reporter is explicitly constructed and passed to the components that
// need it. There is no process-wide handler.
package diag

import (
	"fmt"
	"strings"
	"sync"

	"github.com/smeltworks/smelt/pkg/telemetry"
)

// maxReportsPerCategory caps how many times a single category is logged.
// Repeated soft errors past the cap are still counted and still escalate,
// they just stop producing log lines.
const maxReportsPerCategory = 10

// Handler receives each soft error that is within its category's log
// budget. quiet marks errors that should stay out of user-facing output.
type Handler func(category string, err error, quiet bool)

// NewLogHandler returns a Handler that writes soft errors through the
// given logger. Quiet errors are logged at debug level, the rest at warn.
func NewLogHandler(logger *telemetry.Logger) Handler {
	return func(category string, err error, quiet bool) {
		l := logger.WithField("category", category).WithError(err)
		if quiet {
			l.Debug("Soft error")
			return
		}
		l.Warn("Soft error")
	}
}

// Escalation decides which soft error categories are upgraded to hard
// errors. The zero value escalates nothing.
type Escalation struct {
	all  bool
	only map[string]struct{}
}

// EscalateAll returns an Escalation that upgrades every category.
func EscalateAll() Escalation {
	return Escalation{all: true}
}

// EscalateOnly returns an Escalation that upgrades only the given categories.
func EscalateOnly(categories ...string) Escalation {
	only := make(map[string]struct{}, len(categories))
	for _, category := range categories {
		only[category] = struct{}{}
	}
	return Escalation{only: only}
}

// ParseEscalation parses an escalation config string. Accepted forms are
// "true", "false", an empty string (same as "false"), and
// "only=category1,category2".
func ParseEscalation(s string) (Escalation, error) {
	switch s {
	case "", "false":
		return Escalation{}, nil
	case "true":
		return Escalation{all: true}, nil
	}

	if rest, ok := strings.CutPrefix(s, "only="); ok {
		only := make(map[string]struct{})
		for _, category := range strings.Split(rest, ",") {
			only[strings.TrimSpace(category)] = struct{}{}
		}
		return Escalation{only: only}, nil
	}

	return Escalation{}, fmt.Errorf("invalid escalation config: %q", s)
}

// Escalates reports whether soft errors in the given category should be
// returned as hard errors.
func (e Escalation) Escalates(category string) bool {
	if e.all {
		return true
	}
	_, ok := e.only[category]
	return ok
}

// Reporter counts and logs soft errors. It is safe for concurrent use.
type Reporter struct {
	handler    Handler
	escalation Escalation

	mu     sync.Mutex
	counts map[string]int
}

// NewReporter returns a Reporter that delivers soft errors to handler.
// A nil handler discards them (they are still counted and escalated).
func NewReporter(handler Handler, escalation Escalation) *Reporter {
	return &Reporter{
		handler:    handler,
		escalation: escalation,
		counts:     make(map[string]int),
	}
}

// NewLogReporter returns a Reporter backed by the given logger.
func NewLogReporter(logger *telemetry.Logger, escalation Escalation) *Reporter {
	return NewReporter(NewLogHandler(logger), escalation)
}

// Soft reports a soft error. The error is delivered to the handler at most
// maxReportsPerCategory times per category. The return value is nil unless
// the category is escalated, in which case the error comes back wrapped
// for the caller to propagate. An invalid category is always a hard error.
func (r *Reporter) Soft(category string, err error) error {
	return r.report(category, err, false)
}

// Quiet is Soft with the quiet flag set, for errors that should be
// collected without surfacing in user-facing output.
func (r *Reporter) Quiet(category string, err error) error {
	return r.report(category, err, true)
}

func (r *Reporter) report(category string, err error, quiet bool) error {
	if verr := validateCategory(category); verr != nil {
		return verr
	}

	r.mu.Lock()
	count := r.counts[category]
	r.counts[category] = count + 1
	r.mu.Unlock()

	if count < maxReportsPerCategory && r.handler != nil {
		r.handler(category, err, quiet)
	}

	if r.escalation.Escalates(category) {
		return fmt.Errorf("soft error escalated to failure for category %q: %w", category, err)
	}
	return nil
}

// Reset clears the per-category log counters so subsequent soft errors
// are logged again. Intended for test fixtures.
func (r *Reporter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = make(map[string]int)
}

// Count returns how many times a category has been reported since the
// last Reset.
func (r *Reporter) Count(category string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[category]
}

// validateCategory requires lowercase snake case: a lowercase letter
// followed by lowercase letters, digits, and underscores.
func validateCategory(category string) error {
	if category == "" {
		return fmt.Errorf("soft error category must not be empty")
	}
	for i, c := range category {
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c == '_' || (c >= '0' && c <= '9')):
		default:
			return fmt.Errorf("invalid soft error category %q: categories are lowercase snake case", category)
		}
	}
	return nil
}
