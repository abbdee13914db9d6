package papi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an identifier the API may encode either as a JSON number or a string
type ID string

// UnmarshalJSON accepts numeric and string identifiers
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid identifier %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Job states reported by the cloud jobs endpoint
const (
	JobStateCompleted = "completed"
)

// JobSummary is one entry of the cloud job listing
type JobSummary struct {
	ID             ID     `json:"id"`
	EffectiveState string `json:"effective_state"`
	JobEngineJob   struct {
		ID ID `json:"id"`
	} `json:"job_engine_job"`
}

// JobDetail is the single-job view holding the authoritative file total
type JobDetail struct {
	ID             ID     `json:"id"`
	EffectiveState string `json:"effective_state"`
	Files          struct {
		Total int64 `json:"total"`
	} `json:"files"`
}

// FileEntry is one file reported by the job files endpoint
type FileEntry struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// FilePage is one batch of the job files endpoint
type FilePage struct {
	Resume *string     `json:"resume"`
	Files  []FileEntry `json:"files"`
}

// Last reports whether no further pages follow this one
func (p *FilePage) Last() bool {
	return p.Resume == nil
}

type jobsResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

type jobResponse struct {
	Jobs []JobDetail `json:"jobs"`
}
