package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"oppscout-engine/internal/events"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// LogEntry is one append-only progress line. Entries are never rewritten
// after the fact; pollers rely on the prefix they already saw staying put.
type LogEntry struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Job is the status payload pollers consume. The two report fields stay
// null until the run finishes; a degraded run keeps match_report_filename
// null forever so the client knows scoring never produced anything.
type Job struct {
	ID          string     `json:"job_id"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Log         []LogEntry `json:"log"`
	Error       string     `json:"error,omitempty"`
	OppsReport  *string    `json:"opps_report_filename"`
	MatchReport *string    `json:"match_report_filename"`
	Degraded    bool       `json:"degraded,omitempty"`
}

func (j *Job) terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Registry holds in-flight and recently finished jobs in memory. Finished
// jobs linger for the expiry window so late pollers still get an answer.
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	hub    *events.Hub
	expiry time.Duration
	now    func() time.Time
}

func NewRegistry(hub *events.Hub, expiry time.Duration) *Registry {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Registry{
		jobs:   make(map[string]*Job),
		hub:    hub,
		expiry: expiry,
		now:    time.Now,
	}
}

func (r *Registry) Create() *Job {
	j := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		StartedAt: r.now().UTC(),
	}
	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()
	return j
}

func (r *Registry) MarkRunning(id string) {
	r.mu.Lock()
	if j, ok := r.jobs[id]; ok && !j.terminal() {
		j.Status = StatusRunning
	}
	r.mu.Unlock()
}

// AppendLog adds a progress line and mirrors it to SSE subscribers. A
// line arriving after the job turned terminal is dropped from both.
func (r *Registry) AppendLog(id, text string) {
	at := r.now().UTC()
	r.mu.Lock()
	j, ok := r.jobs[id]
	appended := ok && !j.terminal()
	if appended {
		j.Log = append(j.Log, LogEntry{Text: text, At: at})
	}
	r.mu.Unlock()
	if appended && r.hub != nil {
		r.hub.Publish(events.MakeEvent("", events.TypePipelineLog, 1, map[string]string{
			"job_id": id,
			"text":   text,
		}))
	}
}

// Complete marks the job done. A second terminal transition is ignored.
func (r *Registry) Complete(id string, oppsReport, matchReport *string, degraded bool) {
	r.finish(id, StatusCompleted, "", oppsReport, matchReport, degraded)
}

func (r *Registry) Fail(id string, err error) {
	msg := "pipeline failed"
	if err != nil {
		msg = err.Error()
	}
	r.finish(id, StatusFailed, msg, nil, nil, false)
}

func (r *Registry) finish(id string, status Status, errMsg string, oppsReport, matchReport *string, degraded bool) {
	at := r.now().UTC()
	r.mu.Lock()
	j, ok := r.jobs[id]
	finished := ok && !j.terminal()
	if finished {
		j.Status = status
		j.FinishedAt = &at
		j.Error = errMsg
		j.OppsReport = copyStr(oppsReport)
		j.MatchReport = copyStr(matchReport)
		j.Degraded = degraded
	}
	r.mu.Unlock()
	if finished && r.hub != nil {
		r.hub.Publish(events.MakeEvent("", events.TypePipelineStatus, 1, map[string]string{
			"job_id": id,
			"status": string(status),
		}))
	}
}

// Snapshot returns a copy safe to serialize while the job keeps running.
func (r *Registry) Snapshot(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	out := *j
	out.Log = append([]LogEntry(nil), j.Log...)
	out.OppsReport = copyStr(j.OppsReport)
	out.MatchReport = copyStr(j.MatchReport)
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out, nil
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Sweep drops terminal jobs older than the expiry window. Wired to the
// scheduler; safe to call concurrently.
func (r *Registry) Sweep(ctx context.Context) error {
	cutoff := r.now().Add(-r.expiry)
	r.mu.Lock()
	for id, j := range r.jobs {
		if j.terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
	r.mu.Unlock()
	return ctx.Err()
}
