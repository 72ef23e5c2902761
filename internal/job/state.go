// Package job defines the job state record shared by the API, the workers and
// the pipeline, together with the collaborator contracts the pipeline depends on.
package job

import (
	"errors"
	"time"
)

// DefaultRetention is how long a job record survives after its last write.
const DefaultRetention = time.Hour

var (
	// ErrNotFound is returned when a job record does not exist or has expired.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists is returned by Create when the job id is taken.
	ErrAlreadyExists = errors.New("job already exists")
	// ErrCancelled signals cooperative cancellation. It travels through every
	// layer unchanged and ends in the cancelled terminal status.
	ErrCancelled = errors.New("job cancelled")
)

// Status is the lifecycle state of a job.
type Status string

// Job statuses.
const (
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions occur from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusComplete, StatusError:
		return true
	default:
		return false
	}
}

// CancelRequested reports whether a cancellation has been requested or completed.
func (s Status) CancelRequested() bool {
	return s == StatusCancelling || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusCancelling, StatusCancelled, StatusComplete, StatusError:
		return true
	default:
		return false
	}
}

// Phase names the pipeline stage a running job is in.
type Phase string

// Pipeline phases reported through progress updates.
const (
	PhaseProfiling  Phase = "profiling"
	PhaseSearching  Phase = "searching"
	PhaseScoring    Phase = "scoring"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseGenerating Phase = "generating"
)

// Progress is overwritten on each update, never appended.
type Progress struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message"`
}

// Delivery methods accepted at job creation.
const (
	DeliveryDownload = "download"
	DeliveryEmail    = "email"
)

// Result keys written by the generate step.
const (
	ResultTimestamp = "timestamp"
	ResultFilenames = "filenames"
	ResultKeys      = "keys"
	ResultCount     = "count"
)

// State is the single durable record kept per job.
type State struct {
	JobID          string         `json:"job_id"`
	Status         Status         `json:"status"`
	Progress       *Progress      `json:"progress,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	DeliveryMethod string         `json:"delivery_method,omitempty"`
	DeliveryTarget string         `json:"delivery_target,omitempty"`
}

// NewState returns the initial running record for a freshly submitted job.
func NewState(jobID string, req StartRequest, now time.Time) State {
	method := req.DeliveryMethod
	if method == "" {
		method = DeliveryDownload
	}
	state := State{
		JobID:          jobID,
		Status:         StatusRunning,
		CreatedAt:      now.UTC(),
		ExpiresAt:      now.UTC().Add(DefaultRetention),
		DeliveryMethod: method,
	}
	if method == DeliveryEmail {
		state.DeliveryTarget = req.Email
	}
	return state
}

// ResultStrings reads a string list from the result map. Values decoded from
// JSON arrive as []any and are converted.
func (s State) ResultStrings(key string) []string {
	raw, ok := s.Result[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// Listing is one scraped job posting. URL is its identity.
type Listing struct {
	Title              string `json:"title"`
	Company            string `json:"company"`
	Location           string `json:"location"`
	URL                string `json:"url"`
	DescriptionSnippet string `json:"description_snippet"`
	FullDescription    string `json:"full_description,omitempty"`
	QueryUsed          string `json:"query_used"`
	Source             string `json:"source"`
	PublishedDate      string `json:"published_date,omitempty"`
}

// Invocation is the payload handed from the API to a pipeline execution.
type Invocation struct {
	JobID     string       `json:"job_id"`
	Request   StartRequest `json:"request"`
	Submitted time.Time    `json:"submitted"`
	// Trace holds W3C trace context from the process that enqueued the run.
	Trace map[string]string `json:"trace,omitempty"`
}

// Document is the content handed to a renderer.
type Document struct {
	Title string
	Body  string
}
