package spawner

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveHandsOutDistinctPorts(t *testing.T) {
	p := NewPortPool(9000, 9003)

	a, err := p.Reserve()
	require.NoError(t, err)
	b, err := p.Reserve()
	require.NoError(t, err)
	c, err := p.Reserve()
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{9000, 9001, 9002}, []int{a, b, c})

	_, err = p.Reserve()
	assert.ErrorIs(t, err, ErrNoFreePort)
}

func TestReleaseMakesPortReusable(t *testing.T) {
	p := NewPortPool(9000, 9001)

	port, err := p.Reserve()
	require.NoError(t, err)
	_, err = p.Reserve()
	require.ErrorIs(t, err, ErrNoFreePort)

	p.Release(port)
	again, err := p.Reserve()
	require.NoError(t, err)
	assert.Equal(t, port, again)
}

func TestConcurrentReserveNeverDoubleBooks(t *testing.T) {
	p := NewPortPool(9000, 9050)

	var mu sync.Mutex
	seen := make(map[int]int)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := p.Reserve()
			if err != nil {
				return
			}
			mu.Lock()
			seen[port]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	for port, count := range seen {
		assert.Equal(t, 1, count, "port %d reserved more than once", port)
	}
	assert.Equal(t, 0, p.Free())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Command: nil, PortStart: 9000, PortEnd: 9010})
	assert.Error(t, err)

	_, err = New(Config{Command: []string{"worker"}, PortStart: 9010, PortEnd: 9000})
	assert.Error(t, err)
}
