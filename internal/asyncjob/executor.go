package asyncjob

import (
	"sort"
	"sync"
	"time"

	"github.com/grovetools/virtsession/internal/metrics"
	"github.com/sirupsen/logrus"
)

const maxFinishedJobs = 100

// Info is a type-erased view of a job, used by status listings.
type Info struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      *JobError `json:"error,omitempty"`
}

// Executor carries the logging and bookkeeping shared by submitted jobs.
// It holds no domain state.
type Executor struct {
	logger  *logrus.Entry
	metrics *metrics.Metrics

	mu      sync.Mutex
	jobs    map[string]*Info
	doneIDs []string
}

// NewExecutor creates an Executor. m may be nil.
func NewExecutor(logger *logrus.Entry, m *metrics.Metrics) *Executor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		logger:  logger,
		metrics: m,
		jobs:    make(map[string]*Info),
	}
}

// Jobs returns running and recently finished jobs, oldest first.
func (e *Executor) Jobs() []Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Info, 0, len(e.jobs))
	for _, info := range e.jobs {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Job returns a single job by id.
func (e *Executor) Job(id string) (Info, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.jobs[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

func (e *Executor) started(id, label string, at time.Time) {
	e.mu.Lock()
	e.jobs[id] = &Info{ID: id, Label: label, State: Running.String(), StartedAt: at}
	e.mu.Unlock()

	e.metrics.JobStarted(label)
	e.logger.WithFields(logrus.Fields{"job": id, "label": label}).Debug("Job started")
}

func (e *Executor) finished(id, label string, startedAt time.Time, jerr *JobError) {
	now := time.Now()

	e.mu.Lock()
	if info, ok := e.jobs[id]; ok {
		info.FinishedAt = now
		info.State = DoneOK.String()
		if jerr != nil {
			info.State = DoneError.String()
			info.Error = jerr
		}
	}
	e.doneIDs = append(e.doneIDs, id)
	for len(e.doneIDs) > maxFinishedJobs {
		delete(e.jobs, e.doneIDs[0])
		e.doneIDs = e.doneIDs[1:]
	}
	e.mu.Unlock()

	e.metrics.JobFinished(label, jerr == nil, now.Sub(startedAt))
	log := e.logger.WithFields(logrus.Fields{"job": id, "label": label, "duration": now.Sub(startedAt)})
	if jerr != nil {
		log.WithField("error", jerr.Summary).Warn("Job failed")
		log.Debug(jerr.Detail)
		return
	}
	log.Debug("Job finished")
}
