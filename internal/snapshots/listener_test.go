package snapshots

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesBursts(t *testing.T) {
	var mu sync.Mutex
	fired := map[string]int{}
	d := NewDebouncer(20*time.Millisecond, func(key string) {
		mu.Lock()
		fired[key]++
		mu.Unlock()
	})
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger("2024-05-03")
	}
	d.Trigger("2024-05-04")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired["2024-05-03"] == 1 && fired["2024-05-04"] == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, d.Pending())
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(time.Hour, func(string) { fired.Add(1) })
	d.Trigger("a")
	assert.Equal(t, 1, d.Pending())
	d.Stop()
	d.Trigger("b")
	assert.Zero(t, d.Pending())
	assert.Zero(t, fired.Load())
}

func TestListenerDayFor(t *testing.T) {
	h := newHarness(t)
	l := NewListener(ListenerConfig{Channel: "orders_changed", Service: h.svc})

	day, ok := l.dayFor("")
	assert.True(t, ok)
	assert.Equal(t, "2024-05-03", day)

	day, ok = l.dayFor("2024-05-03")
	assert.True(t, ok)
	assert.Equal(t, "2024-05-03", day)

	// 2024-05-02T20:00Z is already 2024-05-03 in WIB.
	day, ok = l.dayFor("2024-05-02T20:00:00Z")
	assert.True(t, ok)
	assert.Equal(t, "2024-05-03", day)

	// Yesterday stays open until it is finalised.
	day, ok = l.dayFor("2024-05-02T16:59:55Z")
	assert.True(t, ok)
	assert.Equal(t, "2024-05-02", day)

	_, ok = l.dayFor("2024-05-01")
	assert.False(t, ok)
	_, ok = l.dayFor("2024-05-04")
	assert.False(t, ok)
	_, ok = l.dayFor("garbage")
	assert.False(t, ok)
}
