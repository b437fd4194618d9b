package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/afilmory/builder/common"
	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/afilmory/builder/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx() rcontext.BuildContext {
	return rcontext.Initial(config.NewDefaultBuilderConfig())
}

func item(id string) *manifest.PhotoManifestItem {
	return &manifest.PhotoManifestItem{Id: id}
}

func TestSubmitAggregatesResults(t *testing.T) {
	p, err := NewWorkerPool(Options{Workers: 2}, "test")
	require.NoError(t, err)
	defer p.Shutdown()

	ctx := testCtx()
	require.NoError(t, p.Submit(ctx, "a", func(ctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error) {
		return item("a"), nil
	}))
	require.NoError(t, p.Submit(ctx, "b", func(ctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error) {
		return nil, errors.New("bad photo")
	}))

	res := p.Wait()
	assert.Len(t, res.Succeeded, 1)
	assert.Len(t, res.Failed, 1)
	assert.Equal(t, "a", res.Succeeded[0].Key)
	assert.Equal(t, "b", res.Failed[0].Key)
}

func TestTimeoutIsIsolatedToOneTask(t *testing.T) {
	p, err := NewWorkerPool(Options{Workers: 2, TaskTimeout: 50 * time.Millisecond}, "test")
	require.NoError(t, err)
	defer p.Shutdown()

	ctx := testCtx()
	require.NoError(t, p.Submit(ctx, "slow", func(tctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error) {
		select {
		case <-time.After(5 * time.Second):
			return item("slow"), nil
		case <-tctx.Done():
			return nil, tctx.Err()
		}
	}))
	require.NoError(t, p.Submit(ctx, "fast", func(tctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error) {
		return item("fast"), nil
	}))

	res := p.Wait()
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "slow", res.Failed[0].Key)
	assert.True(t, errors.Is(res.Failed[0].Err, common.ErrTaskTimeout))
	require.Len(t, res.Succeeded, 1)
	assert.Equal(t, "fast", res.Succeeded[0].Key)
}

func TestPanicDoesNotKillThePool(t *testing.T) {
	p, err := NewWorkerPool(Options{Workers: 1}, "test")
	require.NoError(t, err)
	defer p.Shutdown()

	ctx := testCtx()
	require.NoError(t, p.Submit(ctx, "boom", func(tctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error) {
		panic("worker crash")
	}))

	res := p.Wait()
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].Err.Error(), "worker crash")

	// the pool keeps working after the crash
	require.NoError(t, p.Submit(ctx, "ok", func(tctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error) {
		return item("ok"), nil
	}))
	res = p.Wait()
	assert.Len(t, res.Succeeded, 1)
}

func TestShutdownRejectsNewSubmissions(t *testing.T) {
	p, err := NewWorkerPool(Options{Workers: 1}, "test")
	require.NoError(t, err)
	p.Shutdown()

	err = p.Submit(testCtx(), "late", func(tctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error) {
		return item("late"), nil
	})
	assert.True(t, errors.Is(err, common.ErrPoolClosed))
}

func TestWaitResetsBetweenRounds(t *testing.T) {
	p, err := NewWorkerPool(Options{Workers: 2}, "test")
	require.NoError(t, err)
	defer p.Shutdown()

	ctx := testCtx()
	require.NoError(t, p.Submit(ctx, "one", func(tctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error) {
		return item("one"), nil
	}))
	first := p.Wait()
	assert.Len(t, first.Succeeded, 1)

	second := p.Wait()
	assert.Empty(t, second.Succeeded)
	assert.Empty(t, second.Failed)
}
