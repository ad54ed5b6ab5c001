package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/expflow/types"
)

// countingSink 记录收到的事件,可选阻塞以制造队列积压
type countingSink struct {
	mu          sync.Mutex
	assignments int
	conversions int
	block       chan struct{}
}

func (s *countingSink) AssignmentRecorded(*types.Assignment) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.assignments++
	s.mu.Unlock()
}

func (s *countingSink) ConversionRecorded(*types.Conversion) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.conversions++
	s.mu.Unlock()
}

func TestAsyncSinkDeliversAllEvents(t *testing.T) {
	inner := &countingSink{}
	s := NewAsyncSink(inner, AsyncSinkConfig{Workers: 2, QueueSize: 64}, nil)

	for i := 0; i < 10; i++ {
		s.AssignmentRecorded(&types.Assignment{Experiment: "exp", Variant: "control"})
		s.ConversionRecorded(&types.Conversion{Experiment: "exp", Variant: "control", Goal: "purchase"})
	}
	s.Close()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	assert.Equal(t, 10, inner.assignments)
	assert.Equal(t, 10, inner.conversions)

	snap := s.Stats()
	assert.Equal(t, int64(20), snap.Delivered)
	assert.Zero(t, snap.Dropped)
}

func TestAsyncSinkDropsWhenQueueFull(t *testing.T) {
	inner := &countingSink{block: make(chan struct{})}
	s := NewAsyncSink(inner, AsyncSinkConfig{Workers: 1, QueueSize: 1}, nil)

	// worker 卡在第一条上,队列容量 1,后续必然溢出
	for i := 0; i < 10; i++ {
		s.AssignmentRecorded(&types.Assignment{Experiment: "exp"})
	}
	assert.Eventually(t, func() bool {
		return s.Stats().Dropped > 0
	}, time.Second, 5*time.Millisecond)

	close(inner.block)
	s.Close()

	snap := s.Stats()
	assert.Equal(t, int64(10), snap.Delivered+snap.Dropped)
}

func TestAsyncSinkRejectsAfterClose(t *testing.T) {
	inner := &countingSink{}
	s := NewAsyncSink(inner, AsyncSinkConfig{}, nil)
	s.Close()
	s.Close() // 幂等

	s.AssignmentRecorded(&types.Assignment{Experiment: "exp"})
	assert.Equal(t, int64(1), s.Stats().Dropped)
}

func TestAsyncSinkRecoversFromPanicingSink(t *testing.T) {
	s := NewAsyncSink(panicSink{}, AsyncSinkConfig{Workers: 1, QueueSize: 4}, nil)
	s.AssignmentRecorded(&types.Assignment{Experiment: "exp"})
	require.NotPanics(t, s.Close)
}

type panicSink struct{}

func (panicSink) AssignmentRecorded(*types.Assignment) { panic("downstream exploded") }
func (panicSink) ConversionRecorded(*types.Conversion) { panic("downstream exploded") }
