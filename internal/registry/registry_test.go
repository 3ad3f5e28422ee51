package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Decentralised-AI/aitino/internal/id/uuid"
	"github.com/Decentralised-AI/aitino/internal/lead"
)

// obedientRunner exits as soon as its context is cancelled.
type obedientRunner struct {
	started atomic.Bool
}

func (r *obedientRunner) Run(ctx context.Context) {
	r.started.Store(true)
	<-ctx.Done()
}

// stubbornRunner ignores cancellation until released.
type stubbornRunner struct {
	release chan struct{}
}

func (r *stubbornRunner) Run(_ context.Context) {
	<-r.release
}

func newRegistry(factory Factory, stopTimeout time.Duration) *Registry {
	return New(factory, uuid.New(), stopTimeout, zap.NewNop())
}

func TestStartAndStop(t *testing.T) {
	t.Parallel()

	runner := &obedientRunner{}
	reg := newRegistry(func([]string) Runner { return runner }, time.Second)

	id, err := reg.Start("w1", []string{"SaaS"})
	require.NoError(t, err)
	assert.Equal(t, "w1", id)
	assert.True(t, reg.Tracked("w1"))

	require.Eventually(t, func() bool { return runner.started.Load() }, time.Second, time.Millisecond)

	require.NoError(t, reg.Stop("w1"))
	assert.False(t, reg.Tracked("w1"))
	assert.Zero(t, reg.Orphans())
}

func TestStartGeneratesID(t *testing.T) {
	t.Parallel()

	reg := newRegistry(func([]string) Runner { return &obedientRunner{} }, time.Second)

	id, err := reg.Start("", []string{"SaaS"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, reg.Tracked(id))
	require.NoError(t, reg.Stop(id))
}

func TestStartDuplicateID(t *testing.T) {
	t.Parallel()

	reg := newRegistry(func([]string) Runner { return &obedientRunner{} }, time.Second)

	_, err := reg.Start("dup", []string{"SaaS"})
	require.NoError(t, err)

	_, err = reg.Start("dup", []string{"startups"})
	require.ErrorIs(t, err, lead.ErrAlreadyRunning)
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, reg.Stop("dup"))
}

func TestStopUnknownID(t *testing.T) {
	t.Parallel()

	reg := newRegistry(func([]string) Runner { return &obedientRunner{} }, time.Second)
	require.ErrorIs(t, reg.Stop("missing"), lead.ErrNotFound)
}

func TestStopTimeoutRemovesEntryAndAllowsReuse(t *testing.T) {
	t.Parallel()

	stubborn := &stubbornRunner{release: make(chan struct{})}
	calls := 0
	reg := newRegistry(func([]string) Runner {
		calls++
		if calls == 1 {
			return stubborn
		}
		return &obedientRunner{}
	}, 20*time.Millisecond)

	_, err := reg.Start("leaky", []string{"SaaS"})
	require.NoError(t, err)

	// stop gives up after the deadline but still removes the entry
	start := time.Now()
	require.NoError(t, reg.Stop("leaky"))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.False(t, reg.Tracked("leaky"))
	assert.Equal(t, 1, reg.Orphans())

	// the id is reusable once the entry is gone
	_, err = reg.Start("leaky", []string{"SaaS"})
	require.NoError(t, err)
	require.NoError(t, reg.Stop("leaky"))

	// once the leaked task finishes, the reaper forgets it
	close(stubborn.release)
	require.Eventually(t, func() bool {
		reg.reapOnce()
		return reg.Orphans() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStopAll(t *testing.T) {
	t.Parallel()

	reg := newRegistry(func([]string) Runner { return &obedientRunner{} }, time.Second)

	for _, id := range []string{"a", "b", "c"} {
		_, err := reg.Start(id, []string{"SaaS"})
		require.NoError(t, err)
	}
	require.Equal(t, 3, reg.Len())

	reg.StopAll()
	assert.Zero(t, reg.Len())
}

func TestStopAllRecordsSlowWorkersAsOrphans(t *testing.T) {
	t.Parallel()

	stubborn := &stubbornRunner{release: make(chan struct{})}
	reg := newRegistry(func(subreddits []string) Runner {
		if subreddits[0] == "slow" {
			return stubborn
		}
		return &obedientRunner{}
	}, 20*time.Millisecond)

	_, err := reg.Start("slow", []string{"slow"})
	require.NoError(t, err)
	_, err = reg.Start("fast", []string{"SaaS"})
	require.NoError(t, err)

	reg.StopAll()

	// every entry is drained; only the stubborn task is left as an orphan
	assert.Zero(t, reg.Len())
	assert.Equal(t, 1, reg.Orphans())

	close(stubborn.release)
	require.Eventually(t, func() bool {
		reg.reapOnce()
		return reg.Orphans() == 0
	}, time.Second, 5*time.Millisecond)
}
