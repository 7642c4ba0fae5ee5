package task

import "time"

// Bucket is the closed lifecycle classification for a task. Raw status
// strings from the orchestration service are an open set; everything in core
// logic works on Buckets, never on the raw strings.
type Bucket int

const (
	BucketActive Bucket = iota
	BucketTodo
	BucketBlocked
	BucketDone
)

// String returns the canonical name of the bucket.
func (b Bucket) String() string {
	switch b {
	case BucketActive:
		return "active"
	case BucketTodo:
		return "todo"
	case BucketBlocked:
		return "blocked"
	case BucketDone:
		return "done"
	}
	return "unknown"
}

// classification maps raw status strings to buckets. Unknown strings fall
// through to BucketTodo.
var classification = map[string]Bucket{
	"done":          BucketDone,
	"completed":     BucketDone,
	"cancelled":     BucketDone,
	"archived":      BucketDone,
	"deleted":       BucketDone,
	"blocked":       BucketBlocked,
	"at_risk":       BucketBlocked,
	"in_progress":   BucketActive,
	"active":        BucketActive,
	"running":       BucketActive,
	"queued":        BucketActive,
	"retry_pending": BucketActive,
}

// Classify maps a raw status string to its lifecycle bucket.
func Classify(status string) Bucket {
	if b, ok := classification[status]; ok {
		return b
	}
	return BucketTodo
}

// priorityRank orders priorities for dispatch. Unknown priorities sort last.
var priorityRank = map[string]int{
	"urgent": 0,
	"high":   1,
	"medium": 2,
	"low":    3,
}

// PriorityRank returns the sort rank for a priority string.
func PriorityRank(priority string) int {
	if r, ok := priorityRank[priority]; ok {
		return r
	}
	return len(priorityRank)
}

// Task is a single work item pulled from the orchestration service.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Sequence     int        `json:"sequence"`
	WorkstreamID string     `json:"workstream_id,omitempty"`
	MilestoneID  string     `json:"milestone_id,omitempty"`
	Domain       string     `json:"domain,omitempty"`
	Skills       []string   `json:"skills,omitempty"`
}

// Bucket classifies the task's current status.
func (t *Task) Bucket() Bucket {
	return Classify(t.Status)
}

// Milestone is an aggregate container for tasks within a workstream.
type Milestone struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	WorkstreamID string `json:"workstream_id,omitempty"`
}

// Workstream is the top-level container in the work-item hierarchy.
type Workstream struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}
