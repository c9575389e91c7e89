// ============================================================================
// Eventbus Worker-Thread Pool - Priority Queue
// ============================================================================
//
// Package: internal/threadpool
// File: queue.go
// Purpose: A container/heap priority queue ordered by (-priority,
// publish_sequence) - higher priority first, FIFO within equal priority.
//
// spec.md §4.D: "publish_sequence is a monotonic counter assigned at
// enqueue time." The sequence is assigned by the Pool at Submit() time, not
// by the caller, so ties are broken in true enqueue order.
//
// ============================================================================

package threadpool

import "container/heap"

type queueItem struct {
	task  Task
	seq   uint64
	index int
}

// priorityQueue implements container/heap.Interface. Higher Task.Priority
// sorts first; equal priority sorts by ascending seq (FIFO).
type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].task.Priority != pq[j].task.Priority {
		return pq[i].task.Priority > pq[j].task.Priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

var _ = heap.Interface(&priorityQueue{})
