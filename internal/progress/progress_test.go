package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginUpdateFinish(t *testing.T) {
	s := NewStore()
	_, ok := s.Current()
	require.False(t, ok)

	op := s.Begin("cleanup")
	op.Update(40, "batch 2/5")
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "cleanup", cur.Operation)
	assert.Equal(t, 40, cur.Percent)
	assert.Equal(t, "batch 2/5", cur.Message)
	assert.Equal(t, op.ID(), cur.ID)

	// percent never moves backwards
	op.Update(10, "late tick")
	cur, _ = s.Current()
	assert.Equal(t, 40, cur.Percent)

	op.Update(250, "done")
	cur, _ = s.Current()
	assert.Equal(t, 100, cur.Percent)

	op.Finish()
	_, ok = s.Current()
	assert.False(t, ok)
}

func TestSupersededOperationIsIgnored(t *testing.T) {
	s := NewStore()
	first := s.Begin("analyze")
	second := s.Begin("cleanup")

	first.Update(90, "stale")
	first.Finish()

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, second.ID(), cur.ID)
	assert.Equal(t, 0, cur.Percent)
}

func TestConcurrentUpdatesAndReads(t *testing.T) {
	s := NewStore()
	op := s.Begin("analyze")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i <= 100; i++ {
				op.Update(i, "tick")
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if cur, ok := s.Current(); ok {
					assert.GreaterOrEqual(t, cur.Percent, 0)
					assert.LessOrEqual(t, cur.Percent, 100)
				}
			}
		}()
	}
	wg.Wait()

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, 100, cur.Percent)
}

type recorder struct{ last int }

func (r *recorder) Update(p int, _ string) { r.last = p }

func TestScaled(t *testing.T) {
	r := &recorder{}
	sc := Scaled(r, 50, 100)
	sc.Update(0, "")
	assert.Equal(t, 50, r.last)
	sc.Update(50, "")
	assert.Equal(t, 75, r.last)
	sc.Update(100, "")
	assert.Equal(t, 100, r.last)
}
