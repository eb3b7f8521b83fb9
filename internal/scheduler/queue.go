package scheduler

import (
	"sync"

	"github.com/KafClaw/groupforge/internal/task"
)

// Queue holds pending tasks per owner in FIFO order. Enqueue raises a
// work-available signal for each affected owner.
type Queue struct {
	mu     sync.Mutex
	tasks  map[string][]*task.Task
	notify func(owner string)
}

// NewQueue creates a queue that calls notify after tasks are added.
func NewQueue(notify func(owner string)) *Queue {
	return &Queue{tasks: make(map[string][]*task.Task), notify: notify}
}

// Enqueue appends tasks in order and signals their owners.
func (q *Queue) Enqueue(tasks ...*task.Task) {
	if len(tasks) == 0 {
		return
	}
	var owners []string
	seen := map[string]bool{}

	q.mu.Lock()
	for _, t := range tasks {
		q.tasks[t.OwnerID] = append(q.tasks[t.OwnerID], t)
		if !seen[t.OwnerID] {
			seen[t.OwnerID] = true
			owners = append(owners, t.OwnerID)
		}
	}
	q.mu.Unlock()

	if q.notify == nil {
		return
	}
	for _, o := range owners {
		q.notify(o)
	}
}

// Next removes and returns the oldest task for owner.
func (q *Queue) Next(owner string) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.tasks[owner]
	if len(pending) == 0 {
		return nil, false
	}
	t := pending[0]
	pending[0] = nil
	if len(pending) == 1 {
		delete(q.tasks, owner)
	} else {
		q.tasks[owner] = pending[1:]
	}
	return t, true
}

// Len returns the number of pending tasks for owner.
func (q *Queue) Len(owner string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks[owner])
}

// Owners returns every owner with pending work.
func (q *Queue) Owners() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tasks))
	for o := range q.tasks {
		out = append(out, o)
	}
	return out
}
