package types

import "time"

// JobState represents the local mirroring state of a cloud job
type JobState string

const (
	StateProcessing JobState = "Processing"
	StateComplete   JobState = "Complete"
)

// SizeUnavailable is recorded instead of a byte count when a file could not be statted
const SizeUnavailable = "NA"

// MissingFileName is the name the management API reports for files it no longer tracks
const MissingFileName = "<missing>"

// JobRecord represents a cloud job mirrored into the local store
type JobRecord struct {
	ID    string   `json:"id"`
	State JobState `json:"state"`
}

// FileRecord represents one file touched by a cloud job, as retrieved at a given page offset
type FileRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	State       string `json:"state"`
	Size        string `json:"size"`
	Offset      int    `json:"offset"`
	JobID       string `json:"job_id"`
	EngineJobID string `json:"engine_job_id"`
}

// SizeSummary aggregates stored file sizes for a name pattern
type SizeSummary struct {
	Pattern string `json:"pattern"`
	Files   int64  `json:"files"`
	Bytes   int64  `json:"bytes"`
}

// SizeResponse represents the response to a size query
type SizeResponse struct {
	Pattern string `json:"pattern"`
	Files   int64  `json:"files"`
	Bytes   int64  `json:"bytes"`
	Human   string `json:"human"`
}

// JobsResponse represents the response to a job listing
type JobsResponse struct {
	Jobs  []JobStatus `json:"jobs"`
	Count int         `json:"count"`
}

// JobStatus pairs a stored job with the number of file rows recorded for it
type JobStatus struct {
	ID    string   `json:"id"`
	State JobState `json:"state"`
	Files int64    `json:"files"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}
