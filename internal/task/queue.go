package task

import (
	"container/heap"
	"log/slog"
	"sync"
)

// heapItem is one entry in the priority heap: higher Priority dequeues
// first, ties broken by earlier CreatedAt.
type heapItem struct {
	task  *Task
	index int
}

type taskHeap []*heapItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is a priority-ordered task queue: a max-heap keyed by
// (priority desc, created-at asc) with a side map for O(1) lookup by id.
// Dequeue skips tombstoned entries (tasks cancelled or otherwise no longer
// pending) rather than removing them from the heap eagerly.
type Queue struct {
	mu     sync.Mutex
	heap   taskHeap
	byID   map[string]*Task
	logger *slog.Logger
}

// NewQueue constructs an empty Queue.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		byID:   make(map[string]*Task),
		logger: logger.With("component", "task_queue"),
	}
}

// Enqueue adds a task to the queue.
func (q *Queue) Enqueue(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.heap, &heapItem{task: t})
	q.byID[t.ID] = t
	q.logger.Debug("enqueued task", "task_id", t.ID, "type", string(t.Type), "priority", t.Priority)
}

// Dequeue pops the highest-priority still-pending task, skipping tombstoned
// entries left behind by cancellation.
func (q *Queue) Dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*heapItem)
		t := item.task
		if _, ok := q.byID[t.ID]; ok && t.Status == StatusPending {
			q.logger.Debug("dequeued task", "task_id", t.ID, "type", string(t.Type), "priority", t.Priority)
			return t
		}
	}
	return nil
}

// GetByID returns the task with the given id, or nil.
func (q *Queue) GetByID(id string) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.byID[id]
}

// Cancel transitions a pending or running task to cancelled. Returns false
// if the task doesn't exist or is already terminal.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.byID[id]
	if !ok {
		return false
	}
	if t.Status != StatusPending && t.Status != StatusRunning {
		return false
	}
	t.TransitionTo(StatusCancelled, "cancelled by caller")
	q.logger.Debug("cancelled task", "task_id", id)
	return true
}

// RemoveCompleted drops every terminal task from the side map, returning
// the removed tasks. Entries left in the heap for removed tasks become
// tombstones that Dequeue will skip.
func (q *Queue) RemoveCompleted() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []*Task
	for id, t := range q.byID {
		if t.IsTerminal() {
			removed = append(removed, t)
			delete(q.byID, id)
		}
	}
	if len(removed) > 0 {
		q.logger.Debug("removed completed tasks", "count", len(removed))
	}
	return removed
}

// Size returns the number of pending tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, t := range q.byID {
		if t.Status == StatusPending {
			n++
		}
	}
	return n
}

// ListAll returns a snapshot of every task currently tracked.
func (q *Queue) ListAll() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Task, 0, len(q.byID))
	for _, t := range q.byID {
		out = append(out, t)
	}
	return out
}

// Statistics returns a count of tasks per status.
func (q *Queue) Statistics() map[Status]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[Status]int{
		StatusPending:   0,
		StatusRunning:   0,
		StatusCompleted: 0,
		StatusFailed:    0,
		StatusCancelled: 0,
		StatusRetrying:  0,
	}
	for _, t := range q.byID {
		stats[t.Status]++
	}
	return stats
}
