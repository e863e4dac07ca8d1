package scheduler

import (
	"container/heap"

	"github.com/omen4impact/noode/pkg/models"
)

// taskQueue is a priority queue of ready tasks for one capability tag,
// ordered by priority-class rank, then submission sequence (FIFO within a
// class).
type taskQueue struct {
	items []*models.Task
}

func newTaskQueue() *taskQueue {
	return &taskQueue{}
}

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if ar, br := a.Priority.Rank(), b.Priority.Rank(); ar != br {
		return ar < br
	}
	return a.Seq < b.Seq
}

func (q *taskQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *taskQueue) Push(x any) { q.items = append(q.items, x.(*models.Task)) }

func (q *taskQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

// push enqueues a task.
func (q *taskQueue) push(t *models.Task) { heap.Push(q, t) }

// pop dequeues the highest-priority task, or nil if empty.
func (q *taskQueue) pop() *models.Task {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*models.Task)
}

// peek returns the head without removing it, or nil if empty.
func (q *taskQueue) peek() *models.Task {
	if q.Len() == 0 {
		return nil
	}
	return q.items[0]
}

// remove deletes a task by ID, returning true if it was queued.
func (q *taskQueue) remove(taskID string) bool {
	for i, t := range q.items {
		if t.ID == taskID {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}
