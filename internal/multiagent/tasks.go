package multiagent

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskError   TaskStatus = "error"
)

// DefaultTaskCapacity bounds the background-task LRU.
const DefaultTaskCapacity = 50

// BackgroundTask is one detached agent run.
type BackgroundTask struct {
	ID          string     `json:"id"`
	AgentName   string     `json:"agent_name"`
	Description string     `json:"task_description"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  time.Time  `json:"finished_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	Err         string     `json:"error,omitempty"`

	deliver DeliveryFunc
}

// TaskManager is a FIFO-ordered map of background tasks bounded at a fixed
// capacity; the oldest task is evicted on overflow. Evicted ids are gone.
type TaskManager struct {
	mu       sync.Mutex
	capacity int
	tasks    map[string]*BackgroundTask
	order    []string
}

// NewTaskManager creates a manager with the given capacity (default 50).
func NewTaskManager(capacity int) *TaskManager {
	if capacity <= 0 {
		capacity = DefaultTaskCapacity
	}
	return &TaskManager{
		capacity: capacity,
		tasks:    make(map[string]*BackgroundTask),
	}
}

// newTaskID returns a short 8-hex identifier.
func newTaskID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Create records a pending task, evicting the oldest when full.
func (m *TaskManager) Create(agentName, description string, deliver DeliveryFunc) *BackgroundTask {
	task := &BackgroundTask{
		ID:          newTaskID(),
		AgentName:   agentName,
		Description: description,
		Status:      TaskPending,
		CreatedAt:   time.Now(),
		deliver:     deliver,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) >= m.capacity {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.tasks, oldest)
	}
	m.tasks[task.ID] = task
	m.order = append(m.order, task.ID)
	return task
}

// Get returns a snapshot of the task, or false for evicted/unknown ids.
func (m *TaskManager) Get(id string) (BackgroundTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return BackgroundTask{}, false
	}
	return *task, true
}

// List returns resident tasks in creation order.
func (m *TaskManager) List() []BackgroundTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]BackgroundTask, 0, len(m.order))
	for _, id := range m.order {
		if task, ok := m.tasks[id]; ok {
			result = append(result, *task)
		}
	}
	return result
}

// Len returns the number of resident tasks.
func (m *TaskManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// SetRunning marks the task running. Evicted tasks are ignored.
func (m *TaskManager) SetRunning(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task, ok := m.tasks[id]; ok {
		task.Status = TaskRunning
	}
}

// Complete marks the task done and returns its delivery callback (nil when
// none was captured or the task was evicted).
func (m *TaskManager) Complete(id, result string) DeliveryFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil
	}
	task.Status = TaskDone
	task.Result = result
	task.FinishedAt = time.Now()
	return task.deliver
}

// Fail marks the task errored and returns its delivery callback.
func (m *TaskManager) Fail(id, errMsg string) DeliveryFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil
	}
	task.Status = TaskError
	task.Err = errMsg
	task.FinishedAt = time.Now()
	return task.deliver
}
