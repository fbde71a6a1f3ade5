package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsBlockSizedBuffer(t *testing.T) {
	buf := Get()
	defer Put(buf)

	assert.Equal(t, BlockSize, len(buf))
	assert.Equal(t, BlockSize, cap(buf))
}

func TestPutAndReuse(t *testing.T) {
	buf1 := Get()
	buf1[0] = 0xAB
	Put(buf1)

	buf2 := Get()
	assert.Equal(t, cap(buf1), cap(buf2))
}

func TestPutHandlesNil(t *testing.T) {
	require.NotPanics(t, func() {
		Put(nil)
	})
}

func TestPutIgnoresWrongSizedBuffer(t *testing.T) {
	require.NotPanics(t, func() {
		Put(make([]byte, 128))
	})
}

func TestCustomPool(t *testing.T) {
	p := NewPool(4096)

	buf := p.Get()
	assert.Equal(t, 4096, len(buf))
	p.Put(buf)
}

func TestNewPoolDefaultsNonPositiveSize(t *testing.T) {
	p := NewPool(0)
	buf := p.Get()
	assert.Equal(t, BlockSize, len(buf))
}

func TestConcurrentGetAndPut(t *testing.T) {
	const numGoroutines = 16
	const iterations = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				buf := Get()
				buf[0] = byte(id)
				Put(buf)
			}
		}(i)
	}

	wg.Wait()
}

func BenchmarkGetPut(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := Get()
		Put(buf)
	}
}
