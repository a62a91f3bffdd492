package core

import "time"

// TaskStatus tracks a task through its forward-only lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool { return s == TaskSucceeded || s == TaskFailed }

// Task is one unit of decomposed work bound to a single capability and,
// transitively, a single agent. Dependencies reference sibling task ids in
// the same plan; a task may not start until every dependency succeeded, and
// is failed without executing when any dependency failed.
type Task struct {
	ID        string     `json:"id"`
	RequestID string     `json:"request_id"`
	// Capability the executing agent must declare.
	Capability Capability `json:"capability"`
	// Input is the sub-request payload dispatched to the agent.
	Input string `json:"input"`
	// DependsOn lists task ids that must succeed before this task starts.
	DependsOn []string `json:"depends_on,omitempty"`
	// Required marks the task as fatal to the whole decomposition on failure.
	Required bool       `json:"required"`
	Status   TaskStatus `json:"status"`
	Result   *TaskResult `json:"result,omitempty"`
}

// NewTask constructs a pending task for a plan.
func NewTask(requestID string, cap Capability, input string, deps ...string) *Task {
	return &Task{
		ID:         NewID(),
		RequestID:  requestID,
		Capability: cap,
		Input:      input,
		DependsOn:  deps,
		Status:     TaskPending,
	}
}

// TaskResult records the terminal outcome of a task.
type TaskResult struct {
	Agent   AgentInfo     `json:"agent"`
	Content string        `json:"content,omitempty"`
	Err     string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// ResultPart is one component of an aggregated composite response, merged in
// dependency order. Failed optional tasks appear as flagged partial failures
// rather than aborting the whole response.
type ResultPart struct {
	TaskID     string     `json:"task_id"`
	Capability Capability `json:"capability"`
	Agent      AgentInfo  `json:"agent"`
	Content    string     `json:"content,omitempty"`
	Failed     bool       `json:"failed"`
	Err        string     `json:"error,omitempty"`
}
