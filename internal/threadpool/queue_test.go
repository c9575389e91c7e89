package threadpool

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityQueueOrdersByPriorityThenSequence(t *testing.T) {
	pq := &priorityQueue{}
	heap.Init(pq)

	heap.Push(pq, &queueItem{task: Task{Priority: 1}, seq: 1})
	heap.Push(pq, &queueItem{task: Task{Priority: 5}, seq: 2})
	heap.Push(pq, &queueItem{task: Task{Priority: 5}, seq: 3})
	heap.Push(pq, &queueItem{task: Task{Priority: 9}, seq: 4})

	var order []uint64
	for pq.Len() > 0 {
		item := heap.Pop(pq).(*queueItem)
		order = append(order, item.seq)
	}

	// priority 9 (seq 4) first, then priority 5 FIFO (seq 2, 3), then priority 1 (seq 1)
	assert.Equal(t, []uint64{4, 2, 3, 1}, order)
}
