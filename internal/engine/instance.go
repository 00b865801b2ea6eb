package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aidlc/gorilla-troop/internal/envelope"
)

// Status is the lifecycle state of one agent instance. stopped and error
// are terminal; every instance reaches exactly one of them exactly once.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Instance is a live handle to one worker invocation.
type Instance struct {
	ID         string
	WorkerType envelope.WorkerType
	ProjectKey string
	TaskID     string
	CreatedAt  time.Time

	mu       sync.RWMutex
	status   Status
	lastErr  error
	cancel   func()
}

// newInstance allocates a fresh id in the `<type>-<8hex>` format.
func newInstance(workerType envelope.WorkerType, projectKey, taskID string) *Instance {
	id := string(workerType) + "-" + uuid.New().String()[:8]
	return &Instance{
		ID:         id,
		WorkerType: workerType,
		ProjectKey: projectKey,
		TaskID:     taskID,
		CreatedAt:  time.Now(),
		status:     StatusStarting,
	}
}

// Status returns the instance's current status.
func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// Err returns the error recorded if the instance ended in StatusError.
func (i *Instance) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastErr
}

// Active reports whether the instance's status is starting or running.
func (i *Instance) Active() bool {
	s := i.Status()
	return s == StatusStarting || s == StatusRunning
}

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	i.status = s
	i.mu.Unlock()
}

func (i *Instance) setError(err error) {
	i.mu.Lock()
	i.status = StatusError
	i.lastErr = err
	i.mu.Unlock()
}

// Snapshot is an immutable, externally safe copy of an instance's
// observable state, returned by the Engine's read-only observers.
type Snapshot struct {
	ID         string
	WorkerType envelope.WorkerType
	ProjectKey string
	TaskID     string
	CreatedAt  time.Time
	Status     Status
	Err        error
}

func (i *Instance) snapshot() Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Snapshot{
		ID:         i.ID,
		WorkerType: i.WorkerType,
		ProjectKey: i.ProjectKey,
		TaskID:     i.TaskID,
		CreatedAt:  i.CreatedAt,
		Status:     i.status,
		Err:        i.lastErr,
	}
}
