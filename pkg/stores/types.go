package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the status of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusViolated  RunStatus = "violated"
)

// Terminal reports whether a run with this status is over.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusViolated
}

// RunMode tells how a plan was processed
type RunMode string

const (
	RunModeApply RunMode = "apply"
	RunModeCheck RunMode = "check"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one application or check of a plan
type Run struct {
	ID          string     `json:"id"`
	Instance    string     `json:"instance"`
	Mode        RunMode    `json:"mode"`
	Status      RunStatus  `json:"status"`
	Actions     int        `json:"actions"`
	Committed   int        `json:"committed"`
	Rounds      int        `json:"rounds"`
	DurationMS  int64      `json:"duration_ms"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	ErrorClass  *string    `json:"error_class,omitempty"`
	ErrorCode   *string    `json:"error_code,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RunResult is the outcome recorded when a run completes
type RunResult struct {
	Status     RunStatus
	Committed  int
	Rounds     int
	Duration   time.Duration
	Error      string
	ErrorClass string
	ErrorCode  string
}

// Commit is a committed action, in commit order
type Commit struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	Position    int       `json:"position"` // 1-based
	ActionIndex int       `json:"action_index"`
	Kind        string    `json:"kind"`
	Action      string    `json:"action"`
	Start       int       `json:"start"`
	End         int       `json:"end"`
	CommittedAt time.Time `json:"committed_at"`
}

// Violation is a constraint violation met during a run
type Violation struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"run_id"`
	ConstraintName string    `json:"constraint_name"`
	Constraint     string    `json:"constraint"`
	Code           string    `json:"code"`
	Hook           string    `json:"hook"`
	ActionIndex    *int      `json:"action_index,omitempty"`
	Position       *int      `json:"position,omitempty"`
	Action         *string   `json:"action,omitempty"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, id string, result RunResult) error
	ListRuns(ctx context.Context, instance *string, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Commit operations
	AppendCommits(ctx context.Context, runID string, commits []*Commit) error
	ListCommits(ctx context.Context, runID string) ([]*Commit, error)

	// Violation operations
	AppendViolation(ctx context.Context, v *Violation) error
	ListViolations(ctx context.Context, runID string) ([]*Violation, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
