package outbound

import "container/heap"

// requestQueue 按 (priority, seq) 排序的最小堆
type requestQueue []*request

func (q requestQueue) Len() int { return len(q) }

func (q requestQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q requestQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *requestQueue) Push(x any) { *q = append(*q, x.(*request)) }

func (q *requestQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

func (q *requestQueue) push(r *request) { heap.Push(q, r) }

func (q *requestQueue) pop() *request {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*request)
}
