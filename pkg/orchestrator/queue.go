package orchestrator

import (
	"cmp"
	"container/heap"
	"slices"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

// DefaultMaxSkips is how many dispatches a plan may be passed over before
// it is promoted ahead of everything that is not already starving.
const DefaultMaxSkips = 16

type queuedPlan struct {
	plan  contracts.TestPlan
	seq   uint64 // submission order
	skips int
	// starveSeq orders starving plans FIFO by the moment they started
	// starving. Zero means not starving.
	starveSeq uint64
	index     int
}

func (q *queuedPlan) starving() bool { return q.starveSeq != 0 }

// planQueue is a heap ordered by: starving first (FIFO among starving),
// then QoS rank, then priority, then submission order.
type planQueue []*queuedPlan

func (pq planQueue) Len() int { return len(pq) }

func (pq planQueue) Less(i, j int) bool { return dispatchesBefore(pq[i], pq[j]) }

func dispatchesBefore(a, b *queuedPlan) bool {
	if a.starving() != b.starving() {
		return a.starving()
	}
	if a.starving() {
		return a.starveSeq < b.starveSeq
	}
	if ra, rb := a.plan.QoS.Rank(), b.plan.QoS.Rank(); ra != rb {
		return ra > rb
	}
	if a.plan.Priority != b.plan.Priority {
		return a.plan.Priority > b.plan.Priority
	}
	return a.seq < b.seq
}

func (pq planQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *planQueue) Push(x any) {
	item := x.(*queuedPlan)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *planQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// scheduler owns the queue and the aging counters. It is not safe for
// concurrent use; the Orchestrator serializes access.
type scheduler struct {
	queue     planQueue
	maxSkips  int
	nextSeq   uint64
	starveSeq uint64
}

func newScheduler(maxSkips int) *scheduler {
	if maxSkips <= 0 {
		maxSkips = DefaultMaxSkips
	}
	return &scheduler{maxSkips: maxSkips}
}

func (s *scheduler) push(plan contracts.TestPlan) *queuedPlan {
	s.nextSeq++
	item := &queuedPlan{plan: plan, seq: s.nextSeq}
	heap.Push(&s.queue, item)
	return item
}

// pop dispatches the head and ages every plan left behind.
func (s *scheduler) pop() (*queuedPlan, bool) {
	if s.queue.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&s.queue).(*queuedPlan)

	var promoted []*queuedPlan
	for _, q := range s.queue {
		q.skips++
		if !q.starving() && q.skips >= s.maxSkips {
			promoted = append(promoted, q)
		}
	}
	// Plans promoted by the same dispatch keep their submission order.
	slices.SortFunc(promoted, func(a, b *queuedPlan) int { return cmp.Compare(a.seq, b.seq) })
	for _, q := range promoted {
		s.starveSeq++
		q.starveSeq = s.starveSeq
		heap.Fix(&s.queue, q.index)
	}
	return item, true
}

func (s *scheduler) remove(item *queuedPlan) {
	if item.index >= 0 && item.index < s.queue.Len() && s.queue[item.index] == item {
		heap.Remove(&s.queue, item.index)
	}
}

func (s *scheduler) len() int { return s.queue.Len() }
