package synth

import "container/heap"

// jobQueue orders waiting jobs by priority, FIFO within a priority.
// Not safe for concurrent use; the coordinator's lock covers it.
type jobQueue struct {
	items []*pendingJob
	seq   uint64
}

func (q *jobQueue) Len() int { return len(q.items) }

func (q *jobQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	return a.seq < b.seq
}

func (q *jobQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].heapIdx = i
	q.items[j].heapIdx = j
}

func (q *jobQueue) Push(x any) {
	p := x.(*pendingJob)
	p.heapIdx = len(q.items)
	q.items = append(q.items, p)
}

func (q *jobQueue) Pop() any {
	old := q.items
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.heapIdx = -1
	q.items = old[:n-1]
	return p
}

// push enqueues a job, assigning its FIFO sequence number.
func (q *jobQueue) push(p *pendingJob) {
	q.seq++
	p.seq = q.seq
	heap.Push(q, p)
}

// pop dequeues the highest-priority job. Nil when empty.
func (q *jobQueue) pop() *pendingJob {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*pendingJob)
}

// remove drops a queued job. No-op if the job is not in the queue.
func (q *jobQueue) remove(p *pendingJob) {
	if p.heapIdx >= 0 && p.heapIdx < len(q.items) && q.items[p.heapIdx] == p {
		heap.Remove(q, p.heapIdx)
	}
}

// fix re-establishes heap order after a job's priority changed.
func (q *jobQueue) fix(p *pendingJob) {
	if p.heapIdx >= 0 && p.heapIdx < len(q.items) && q.items[p.heapIdx] == p {
		heap.Fix(q, p.heapIdx)
	}
}
