package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// UploadJob tracks an asynchronous upload-and-generate request.
type UploadJob struct {
	ID        string        `json:"job_id"`
	Status    string        `json:"status"`
	Filename  string        `json:"filename"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Result    *UploadResult `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// JobManager keeps upload jobs in memory. Jobs do not survive a restart.
type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*UploadJob
	ttl  time.Duration
	now  func() time.Time
}

func NewJobManager(ttl time.Duration) *JobManager {
	return &JobManager{
		jobs: make(map[string]*UploadJob),
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *JobManager) CreateJob(filename string) (string, *UploadJob) {
	now := m.now()
	job := &UploadJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Filename:  filename,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.pruneLocked(now)
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.ID, job.clone()
}

func (m *JobManager) GetJob(id string) (*UploadJob, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *UploadJob) {
		job.Status = JobStatusProcessing
	})
}

func (m *JobManager) MarkCompleted(id string, result UploadResult) {
	m.withJob(id, func(job *UploadJob) {
		job.Status = JobStatusComplete
		job.Result = &result
		job.Error = ""
	})
}

func (m *JobManager) MarkFailed(id string, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "processing error"
	}
	m.withJob(id, func(job *UploadJob) {
		job.Status = JobStatusFailed
		job.Error = msg
	})
}

func (m *JobManager) withJob(id string, fn func(job *UploadJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = m.now()
}

// pruneLocked drops finished jobs older than the ttl.
func (m *JobManager) pruneLocked(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for id, job := range m.jobs {
		finished := job.Status == JobStatusComplete || job.Status == JobStatusFailed
		if finished && now.Sub(job.UpdatedAt) > m.ttl {
			delete(m.jobs, id)
		}
	}
}

func (job *UploadJob) clone() *UploadJob {
	if job == nil {
		return nil
	}
	copyJob := *job
	if job.Result != nil {
		res := *job.Result
		copyJob.Result = &res
	}
	return &copyJob
}
