package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/starmod/pkg/loader"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the require.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the require.
	SeverityError Severity = "error"
)

// blocks reports whether a violation of this severity denies the require.
func (s Severity) blocks() bool {
	return s == SeverityError
}

// Policy represents a policy rule with its Rego code. The Rego module must
// define a deny set; each element is a message string or an object with
// message and severity fields.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Decision is the result of evaluating every enabled policy for one require.
type Decision struct {
	// Allowed indicates if the require may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	// Require is the request being checked.
	Require loader.RequireRequest `json:"require"`

	// Context provides additional evaluation context.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is always "require".
	Operation string `json:"operation"`

	// Metadata carries host-supplied values, such as the system namespace.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ErrDenied matches every DeniedError via errors.Is.
var ErrDenied = errors.New("require denied by policy")

// DeniedError is returned by Guard.CheckRequire when a policy blocks a
// require.
type DeniedError struct {
	Identifier string
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("require %q denied by policy: %s", e.Identifier, strings.Join(msgs, "; "))
}

// Is reports whether target is ErrDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}
