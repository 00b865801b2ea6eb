// Package notification implements the priority-ordered notification
// queue human operators read from: add is O(log n), retrieving the k
// most urgent unread notifications is O(m + k log m) where m is the
// number of currently-unread notifications matching the query — far
// better than sorting the whole history for every read.
package notification

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification is one item a human operator may need to act on.
type Notification struct {
	ID          string
	Type        string // "review_gate", "escalation", "status_update", "info", "qa"
	Title       string
	Body        string
	ProjectKey  string
	Priority    int // 0 (critical) .. 4 (info); lower sorts first
	CreatedAt   time.Time
	Read        bool
	SourceIssue string

	index int // heap.Interface bookkeeping, maintained by unreadHeap
}

func newID() string {
	return "notif-" + uuid.New().String()[:8]
}

// unreadHeap is a min-heap of currently-unread notifications, ordered by
// priority then creation time (the same ordering as the source's
// Notification.__lt__). Only unread notifications live here; Queue
// removes an item the moment it is marked read.
type unreadHeap []*Notification

func (h unreadHeap) Len() int { return len(h) }
func (h unreadHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h unreadHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *unreadHeap) Push(x any) {
	n := x.(*Notification)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *unreadHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is the priority-ordered notification queue for one running
// process. A Queue typically serves every project the process is
// driving; callers filter by project key per call.
type Queue struct {
	mu     sync.Mutex
	unread unreadHeap
	byID   map[string]*Notification
	now    func() time.Time
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{byID: make(map[string]*Notification), now: time.Now}
}

// Add inserts a notification, assigning it an id if it doesn't have one.
func (q *Queue) Add(n *Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n.ID == "" {
		n.ID = newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = q.now()
	}
	q.byID[n.ID] = n
	if !n.Read {
		heap.Push(&q.unread, n)
	}
}

// Create builds and adds a notification in one step, returning it.
func (q *Queue) Create(typ, title, body, projectKey string, priority int, sourceIssue string) *Notification {
	n := &Notification{
		Type:        typ,
		Title:       title,
		Body:        body,
		ProjectKey:  projectKey,
		Priority:    priority,
		SourceIssue: sourceIssue,
	}
	q.Add(n)
	return n
}

type entry struct {
	id        string
	priority  int
	createdAt time.Time
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].createdAt.Before(h[j].createdAt)
}
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// GetUnread returns up to limit unread notifications, highest priority
// (then earliest-created) first, optionally filtered to one project.
// An empty projectKey matches every project.
func (q *Queue) GetUnread(projectKey string, limit int) []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidates entryHeap
	for _, n := range q.unread {
		if projectKey != "" && n.ProjectKey != projectKey {
			continue
		}
		candidates = append(candidates, entry{id: n.ID, priority: n.Priority, createdAt: n.CreatedAt})
	}
	heap.Init(&candidates)

	var out []Notification
	for len(out) < limit && candidates.Len() > 0 {
		e := heap.Pop(&candidates).(entry)
		out = append(out, *q.byID[e.id])
	}
	return out
}

// MarkRead marks one notification read, removing it from the unread
// heap in O(log n).
func (q *Queue) MarkRead(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, ok := q.byID[id]
	if !ok || n.Read {
		return
	}
	n.Read = true
	heap.Remove(&q.unread, n.index)
}

// MarkAllRead marks every unread notification read (optionally scoped to
// one project) and returns how many were marked.
func (q *Queue) MarkAllRead(projectKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var matches []*Notification
	for _, n := range q.unread {
		if projectKey == "" || n.ProjectKey == projectKey {
			matches = append(matches, n)
		}
	}
	for _, n := range matches {
		n.Read = true
		heap.Remove(&q.unread, n.index)
	}
	return len(matches)
}

// ClearProject removes every notification (read or unread) for a
// project.
func (q *Queue) ClearProject(projectKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, n := range q.byID {
		if n.ProjectKey == projectKey {
			delete(q.byID, id)
		}
	}
	var kept unreadHeap
	for _, n := range q.unread {
		if n.ProjectKey != projectKey {
			n.index = len(kept)
			kept = append(kept, n)
		}
	}
	q.unread = kept
	heap.Init(&q.unread)
}

// CountUnread counts unread notifications, optionally scoped to one
// project.
func (q *Queue) CountUnread(projectKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if projectKey == "" {
		return len(q.unread)
	}
	count := 0
	for _, n := range q.unread {
		if n.ProjectKey == projectKey {
			count++
		}
	}
	return count
}
