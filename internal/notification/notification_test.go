package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUnreadOrdersByPriorityThenCreatedAt(t *testing.T) {
	q := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }

	q.Create("info", "low prio", "", "proj-1", 4, "")
	q.now = func() time.Time { return base.Add(time.Minute) }
	q.Create("escalation", "high prio first", "", "proj-1", 0, "")
	q.now = func() time.Time { return base.Add(2 * time.Minute) }
	q.Create("escalation", "high prio second", "", "proj-1", 0, "")

	out := q.GetUnread("", 10)
	require.Len(t, out, 3)
	assert.Equal(t, "high prio first", out[0].Title)
	assert.Equal(t, "high prio second", out[1].Title)
	assert.Equal(t, "low prio", out[2].Title)
}

func TestGetUnreadFiltersByProjectAndLimit(t *testing.T) {
	q := New()
	q.Create("info", "a", "", "proj-1", 2, "")
	q.Create("info", "b", "", "proj-2", 1, "")
	q.Create("info", "c", "", "proj-1", 1, "")

	out := q.GetUnread("proj-1", 1)
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].Title)
}

func TestMarkReadRemovesFromUnreadCount(t *testing.T) {
	q := New()
	n := q.Create("info", "a", "", "proj-1", 2, "")
	assert.Equal(t, 1, q.CountUnread("proj-1"))

	q.MarkRead(n.ID)
	assert.Equal(t, 0, q.CountUnread("proj-1"))
	assert.Empty(t, q.GetUnread("proj-1", 10))
}

func TestMarkAllReadScopesToProject(t *testing.T) {
	q := New()
	q.Create("info", "a", "", "proj-1", 2, "")
	q.Create("info", "b", "", "proj-1", 2, "")
	q.Create("info", "c", "", "proj-2", 2, "")

	count := q.MarkAllRead("proj-1")
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, q.CountUnread("proj-1"))
	assert.Equal(t, 1, q.CountUnread("proj-2"))
}

func TestClearProjectRemovesAllRecordsForProject(t *testing.T) {
	q := New()
	n1 := q.Create("info", "a", "", "proj-1", 2, "")
	q.Create("info", "b", "", "proj-2", 2, "")
	q.MarkRead(n1.ID)

	q.ClearProject("proj-1")
	assert.Equal(t, 1, q.CountUnread("proj-2"))
	q.Create("info", "c", "", "proj-2", 1, "")
	assert.Equal(t, 2, q.CountUnread("proj-2"))
	assert.Len(t, q.byID, 2)
}
