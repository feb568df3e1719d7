package throttle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testWindow = 40 * time.Millisecond

func TestBurstRunsLeadingAndTrailing(t *testing.T) {
	th := New(testWindow)

	var calls atomic.Int32
	var last atomic.Int32
	for i := 1; i <= 10; i++ {
		n := int32(i)
		th.Do("messages:s1", func() {
			calls.Add(1)
			last.Store(n)
		})
	}
	require.Equal(t, int32(1), calls.Load(), "leading call runs synchronously")
	require.Equal(t, int32(1), last.Load())

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(10), last.Load(), "trailing call carries the latest callback")

	time.Sleep(3 * testWindow)
	require.Equal(t, int32(2), calls.Load(), "no re-arm after the trailing call")
	require.Zero(t, th.Active())
}

func TestSingleCallHasNoTrailing(t *testing.T) {
	th := New(testWindow)

	var calls atomic.Int32
	th.Do("k", func() { calls.Add(1) })

	time.Sleep(3 * testWindow)
	require.Equal(t, int32(1), calls.Load())
}

func TestCallAfterWindowRunsImmediately(t *testing.T) {
	th := New(testWindow)

	var calls atomic.Int32
	th.Do("k", func() { calls.Add(1) })
	require.Eventually(t, func() bool { return th.Active() == 0 }, time.Second, 5*time.Millisecond)

	th.Do("k", func() { calls.Add(1) })
	require.Equal(t, int32(2), calls.Load())
}

func TestKeysAreIndependent(t *testing.T) {
	th := New(testWindow)

	var a, b atomic.Int32
	th.Do("messages:a", func() { a.Add(1) })
	th.Do("messages:b", func() { b.Add(1) })

	require.Equal(t, int32(1), a.Load())
	require.Equal(t, int32(1), b.Load())
	require.Equal(t, 2, th.Active())
}

func TestStopDropsTrailingCalls(t *testing.T) {
	th := New(testWindow)

	var calls atomic.Int32
	th.Do("k", func() { calls.Add(1) })
	th.Do("k", func() { calls.Add(1) })
	th.Stop()
	require.Zero(t, th.Active())

	time.Sleep(3 * testWindow)
	require.Equal(t, int32(1), calls.Load())

	th.Do("k", func() { calls.Add(1) })
	require.Equal(t, int32(2), calls.Load(), "throttle is reusable after Stop")
}
