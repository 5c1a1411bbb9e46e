package queue

import (
	"container/heap"
	"errors"
	"sort"
	"sync"
	"time"

	"outbound-dialer/internal/calls"
)

var (
	ErrInvalidRequest = errors.New("queue: invalid request")
	ErrDuplicateLead  = errors.New("queue: lead already queued")
)

// Queue is the dispatch backlog.
//
// Ordering: (priority, due time, insertion order). The queue knows nothing about
// DIDs or budgets. It is safe for concurrent use: API producers enqueue while the
// orchestration loop dequeues.
type Queue struct {
	mu     sync.Mutex
	items  itemHeap
	seq    uint64
	byLead map[string]string // lead_id -> request_id
}

func New() *Queue {
	return &Queue{byLead: map[string]string{}}
}

type item struct {
	req calls.CallRequest
	due time.Time
	seq uint64
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.req.Priority != b.req.Priority {
		return a.req.Priority < b.req.Priority
	}
	if !a.due.Equal(b.due) {
		return a.due.Before(b.due)
	}
	return a.seq < b.seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Enqueue inserts a request. A lead can be queued at most once.
func (q *Queue) Enqueue(req calls.CallRequest) error {
	if req.ID == "" || req.Validate() != nil {
		return ErrInvalidRequest
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byLead[req.LeadID]; ok {
		return ErrDuplicateLead
	}
	q.pushLocked(req)
	return nil
}

func (q *Queue) pushLocked(req calls.CallRequest) {
	q.seq++
	heap.Push(&q.items, &item{req: req, due: req.DueAt(), seq: q.seq})
	q.byLead[req.LeadID] = req.ID
}

// DequeueNext removes and returns the smallest-key request that is due at now.
// Requests that are not yet due are left in place unchanged.
func (q *Queue) DequeueNext(now time.Time) (calls.CallRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*item
	defer func() {
		for _, it := range skipped {
			heap.Push(&q.items, it)
		}
	}()

	for q.items.Len() > 0 {
		it := heap.Pop(&q.items).(*item)
		if it.due.After(now) {
			skipped = append(skipped, it)
			continue
		}
		delete(q.byLead, it.req.LeadID)
		return it.req, true
	}
	return calls.CallRequest{}, false
}

// RemoveCampaign drops every queued request of a campaign and returns how many were dropped.
func (q *Queue) RemoveCampaign(campaignID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if it.req.CampaignID == campaignID {
			delete(q.byLead, it.req.LeadID)
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	heap.Init(&q.items)
	return removed
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// ContainsLead reports whether a request for leadID is queued.
func (q *Queue) ContainsLead(leadID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byLead[leadID]
	return ok
}

// Campaigns returns the distinct campaign ids with queued requests.
func (q *Queue) Campaigns() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, it := range q.items {
		if _, ok := seen[it.req.CampaignID]; ok {
			continue
		}
		seen[it.req.CampaignID] = struct{}{}
		out = append(out, it.req.CampaignID)
	}
	return out
}

// Snapshot returns the queued requests in dispatch order, ignoring due times.
func (q *Queue) Snapshot() []calls.CallRequest {
	q.mu.Lock()
	items := make(itemHeap, len(q.items))
	copy(items, q.items)
	q.mu.Unlock()

	sort.Slice(items, items.Less)
	out := make([]calls.CallRequest, len(items))
	for i, it := range items {
		out[i] = it.req
	}
	return out
}
