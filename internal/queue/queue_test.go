package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{}

func (allowAll) Ready(string, time.Time) bool { return true }

type blockHost string

func (b blockHost) Ready(host string, _ time.Time) bool { return host != string(b) }

func TestEnqueueDedup(t *testing.T) {
	q := New()

	ok := q.Enqueue(&Request{URLID: 1, Host: "a.com", Source: SourceDiscovery, Depth: 1})
	require.True(t, ok)
	assert.False(t, q.Enqueue(&Request{URLID: 1, Host: "a.com", Source: SourceDiscovery, Depth: 1}))
	assert.Equal(t, 1, q.Size())
}

func TestEnqueueVisitedDepthGate(t *testing.T) {
	q := New()
	q.MarkVisited(7, 2)

	// Same or deeper depth is rejected; shallower is allowed
	assert.False(t, q.Enqueue(&Request{URLID: 7, Host: "a.com", Depth: 2}))
	assert.False(t, q.Enqueue(&Request{URLID: 7, Host: "a.com", Depth: 3}))
	assert.True(t, q.Enqueue(&Request{URLID: 7, Host: "a.com", Depth: 1}))
}

func TestDequeueBucketOrder(t *testing.T) {
	q := New()
	q.Enqueue(&Request{URLID: 1, Host: "a.com", Source: SourceDiscovery, Priority: 100})
	q.Enqueue(&Request{URLID: 2, Host: "a.com", Source: SourceArticle, Priority: 400})
	q.Enqueue(&Request{URLID: 3, Host: "a.com", Source: SourcePlan, Priority: 50})

	// Plan-directed wins even with lower numeric priority
	first := q.DequeueReady(time.Now(), allowAll{})
	require.NotNil(t, first)
	assert.Equal(t, int64(3), first.URLID)

	second := q.DequeueReady(time.Now(), allowAll{})
	require.NotNil(t, second)
	assert.Equal(t, int64(2), second.URLID)

	third := q.DequeueReady(time.Now(), allowAll{})
	require.NotNil(t, third)
	assert.Equal(t, int64(1), third.URLID)

	assert.Nil(t, q.DequeueReady(time.Now(), allowAll{}))
}

func TestDequeueOrderWithinBucket(t *testing.T) {
	q := New()
	q.Enqueue(&Request{URLID: 1, Host: "a.com", Source: SourceHub, Priority: 500})
	q.Enqueue(&Request{URLID: 2, Host: "a.com", Source: SourceHub, Priority: 700})
	q.Enqueue(&Request{URLID: 3, Host: "a.com", Source: SourceHub, Priority: 700, ExpectedValue: 50})
	q.Enqueue(&Request{URLID: 4, Host: "a.com", Source: SourceHub, Priority: 700, ExpectedValue: 50})

	var got []int64
	for {
		req := q.DequeueReady(time.Now(), allowAll{})
		if req == nil {
			break
		}
		got = append(got, req.URLID)
	}
	// priority desc, expected value desc, enqueue order asc
	assert.Equal(t, []int64{3, 4, 2, 1}, got)
}

func TestDequeueSkipsGatedHost(t *testing.T) {
	q := New()
	q.Enqueue(&Request{URLID: 1, Host: "slow.com", Source: SourceHub, Priority: 900})
	q.Enqueue(&Request{URLID: 2, Host: "fast.com", Source: SourceHub, Priority: 100})

	req := q.DequeueReady(time.Now(), blockHost("slow.com"))
	require.NotNil(t, req)
	assert.Equal(t, int64(2), req.URLID)

	// The gated request stays queued
	assert.Equal(t, 1, q.PendingForHost("slow.com"))
}

func TestSizeByBucketAndDomains(t *testing.T) {
	q := New()
	q.Enqueue(&Request{URLID: 1, Host: "a.com", Source: SourceDiscovery})
	q.Enqueue(&Request{URLID: 2, Host: "b.com", Source: SourcePlan})
	q.Enqueue(&Request{URLID: 3, Host: "a.com", Source: SourceHub})

	sizes := q.SizeByBucket()
	assert.Equal(t, 1, sizes["discovery"])
	assert.Equal(t, 1, sizes["acquisition"])
	assert.Equal(t, 1, sizes["plan-directed"])
	assert.Equal(t, []string{"a.com", "b.com"}, q.Domains())
}
