package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRunsInOrder(t *testing.T) {
	l := New("test")
	defer l.Stop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Do(func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestDoWaits(t *testing.T) {
	l := New("test")
	defer l.Stop()

	ran := false
	require.NoError(t, l.Do(func() {
		time.Sleep(10 * time.Millisecond)
		ran = true
	}))
	assert.True(t, ran)
}

func TestStopDrainsQueueAndRejectsNewWork(t *testing.T) {
	l := New("test")
	count := 0
	for i := 0; i < 10; i++ {
		l.Post(func() { count++ })
	}
	l.Stop()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, 10, count)
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(func() {}), ErrStopped)
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := New("test")
	defer l.Stop()

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Do(func() { ran = true }))
	assert.True(t, ran)
}
