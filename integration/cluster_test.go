//go:build integration
// +build integration

package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

type clusterFile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type clusterJob struct {
	id       int
	engineID int
	state    string
	files    []clusterFile
}

// Cluster fakes the cloud job endpoints of the management API
type Cluster struct {
	mu   sync.Mutex
	jobs []*clusterJob

	// failNext answers the next N requests with 503
	failNext int
	// dropAt closes the connection on file listing requests at this remote offset
	dropAt   map[int]int
	requests map[string]int

	server *httptest.Server
}

// NewCluster starts a TLS management API fake
func NewCluster(t *testing.T) *Cluster {
	t.Helper()
	c := &Cluster{
		dropAt:   make(map[int]int),
		requests: make(map[string]int),
	}
	c.server = httptest.NewTLSServer(http.HandlerFunc(c.serve))
	t.Cleanup(c.server.Close)
	return c
}

// AddJob registers a cloud job and its files
func (c *Cluster) AddJob(id, engineID int, state string, names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job := &clusterJob{id: id, engineID: engineID, state: state}
	for i, name := range names {
		job.files = append(job.files, clusterFile{ID: i + 1, Name: name})
	}
	c.jobs = append(c.jobs, job)
}

// AppendFile adds a file to an existing job, growing its total
func (c *Cluster) AppendFile(id int, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, job := range c.jobs {
		if job.id == id {
			job.files = append(job.files, clusterFile{ID: len(job.files) + 1, Name: name})
		}
	}
}

// SetState changes the effective state of a job
func (c *Cluster) SetState(id int, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, job := range c.jobs {
		if job.id == id {
			job.state = state
		}
	}
}

// FailNext makes the next n requests answer 503
func (c *Cluster) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// DropListing closes connections for file listing requests of job id at a remote offset
func (c *Cluster) DropListing(id, offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropAt[id] = offset
}

// Heal clears all injected failures
func (c *Cluster) Heal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = 0
	c.dropAt = make(map[int]int)
}

// Requests returns how many requests hit the given path
func (c *Cluster) Requests(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[path]
}

// Host returns the host and port the fake listens on
func (c *Cluster) Host() (string, string) {
	hostPort := strings.TrimPrefix(c.server.URL, "https://")
	host, port, _ := strings.Cut(hostPort, ":")
	return host, port
}

func (c *Cluster) serve(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[r.URL.Path]++

	if c.failNext > 0 {
		c.failNext--
		http.Error(w, `{"errors":[{"message":"service unavailable"}]}`, http.StatusServiceUnavailable)
		return
	}

	rest, ok := strings.CutPrefix(r.URL.Path, "/platform/3/cloud/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case rest == "jobs":
		c.listJobs(w)
	case strings.HasPrefix(rest, "jobs/"):
		c.getJob(w, r, strings.TrimPrefix(rest, "jobs/"))
	case strings.HasPrefix(rest, "jobs-files/"):
		c.listFiles(w, r, strings.TrimPrefix(rest, "jobs-files/"))
	default:
		http.NotFound(w, r)
	}
}

func (c *Cluster) find(raw string) *clusterJob {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	for _, job := range c.jobs {
		if job.id == id {
			return job
		}
	}
	return nil
}

func (c *Cluster) listJobs(w http.ResponseWriter) {
	type engineJob struct {
		ID int `json:"id"`
	}
	type summary struct {
		ID             int       `json:"id"`
		EffectiveState string    `json:"effective_state"`
		JobEngineJob   engineJob `json:"job_engine_job"`
	}

	out := struct {
		Jobs []summary `json:"jobs"`
	}{Jobs: []summary{}}
	for _, job := range c.jobs {
		out.Jobs = append(out.Jobs, summary{ID: job.id, EffectiveState: job.state, JobEngineJob: engineJob{ID: job.engineID}})
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (c *Cluster) getJob(w http.ResponseWriter, r *http.Request, raw string) {
	job := c.find(raw)
	if job == nil {
		http.NotFound(w, r)
		return
	}

	type files struct {
		Total int `json:"total"`
	}
	type detail struct {
		ID             int    `json:"id"`
		EffectiveState string `json:"effective_state"`
		Files          files  `json:"files"`
	}

	_ = json.NewEncoder(w).Encode(struct {
		Jobs []detail `json:"jobs"`
	}{Jobs: []detail{{ID: job.id, EffectiveState: job.state, Files: files{Total: len(job.files)}}}})
}

func (c *Cluster) listFiles(w http.ResponseWriter, r *http.Request, raw string) {
	job := c.find(raw)
	if job == nil {
		http.NotFound(w, r)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if at, ok := c.dropAt[job.id]; ok && at == offset {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
	}

	end := offset + limit
	if end > len(job.files) {
		end = len(job.files)
	}

	page := []clusterFile{}
	if offset < end {
		page = job.files[offset:end]
	}

	var resume *string
	if end < len(job.files) {
		token := "page-" + strconv.Itoa(end)
		resume = &token
	}

	_ = json.NewEncoder(w).Encode(struct {
		Resume *string       `json:"resume"`
		Files  []clusterFile `json:"files"`
	}{Resume: resume, Files: page})
}
