// Package pool executes one task per photo with bounded parallelism. It
// never decides retry policy: failures are aggregated and handed back to the
// caller.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/afilmory/builder/common"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/afilmory/builder/manifest"
	"github.com/getsentry/sentry-go"
	"golang.org/x/time/rate"
)

type TaskFunc func(ctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error)

// ClusterRunFunc executes one photo in an isolated worker process. When set
// on Options, it replaces in-process execution of every task.
type ClusterRunFunc func(ctx rcontext.BuildContext, key string) (*manifest.PhotoManifestItem, error)

type TaskResult struct {
	Key  string
	Item *manifest.PhotoManifestItem
	Err  error
}

type Results struct {
	Succeeded []TaskResult
	Failed    []TaskResult
}

type Options struct {
	Workers        int
	TaskTimeout    time.Duration
	TasksPerSecond float64 // per-worker task rate; 0 = unlimited
	ClusterRun     ClusterRunFunc
}

type WorkerPool struct {
	queue   *Queue
	opts    Options
	limiter *rate.Limiter

	mu      sync.Mutex
	results Results
	closed  bool
	wg      sync.WaitGroup
}

func NewWorkerPool(opts Options, name string) (*WorkerPool, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	q, err := NewQueue(opts.Workers, name)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if opts.TasksPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.TasksPerSecond*float64(opts.Workers)), opts.Workers)
	}

	return &WorkerPool{
		queue:   q,
		opts:    opts,
		limiter: limiter,
	}, nil
}

// Submit schedules one task. Rejected with ErrPoolClosed once Shutdown has
// been called.
func (p *WorkerPool) Submit(ctx rcontext.BuildContext, key string, task TaskFunc) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return common.ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	err := p.queue.Schedule(func() {
		defer p.wg.Done()
		p.run(ctx, key, task)
	})
	if err != nil {
		p.wg.Done()
		return err
	}
	return nil
}

func (p *WorkerPool) run(ctx rcontext.BuildContext, key string, task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			// Backstop for the scheduling code itself; task panics are
			// recovered on the task goroutine below.
			ctx.Log.Error("Worker crashed processing ", key, ": ", r)
			if e, ok := r.(error); ok {
				sentry.CaptureException(e)
			}
			p.record(TaskResult{Key: key, Err: fmt.Errorf("worker crash: %v", r)})
		}
	}()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx.Context); err != nil {
			p.record(TaskResult{Key: key, Err: common.ErrTaskAborted})
			return
		}
	}

	tctx := ctx
	if p.opts.TaskTimeout > 0 {
		c, cancel := context.WithTimeout(ctx.Context, p.opts.TaskTimeout)
		defer cancel()
		tctx = ctx.WithContext(c)
	}

	exec := task
	if p.opts.ClusterRun != nil {
		exec = func(ctx rcontext.BuildContext) (*manifest.PhotoManifestItem, error) {
			return p.opts.ClusterRun(ctx, key)
		}
	}

	done := make(chan TaskResult, 1)
	go func() {
		// The task runs on this goroutine, so the crash recovery has to
		// live here too - the deferred recover in run only backstops the
		// bookkeeping around the select below.
		defer func() {
			if r := recover(); r != nil {
				ctx.Log.Error("Worker crashed processing ", key, ": ", r)
				if e, ok := r.(error); ok {
					sentry.CaptureException(e)
				}
				done <- TaskResult{Key: key, Err: fmt.Errorf("worker crash: %v", r)}
			}
		}()
		item, err := exec(tctx)
		done <- TaskResult{Key: key, Item: item, Err: err}
	}()

	select {
	case res := <-done:
		p.record(res)
	case <-tctx.Done():
		// The task is abandoned, not interrupted: it keeps whatever worker
		// goroutine it spawned until its next cancellation checkpoint. Only
		// this photo fails.
		p.record(TaskResult{Key: key, Err: common.ErrTaskTimeout})
	}
}

func (p *WorkerPool) record(res TaskResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if res.Err != nil {
		p.results.Failed = append(p.results.Failed, res)
	} else {
		p.results.Succeeded = append(p.results.Succeeded, res)
	}
}

// Wait drains in-flight tasks and returns everything recorded since the
// previous Wait. The pool stays usable, which is what lets the Orchestrator
// run retry rounds.
func (p *WorkerPool) Wait() Results {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.results
	p.results = Results{}
	return out
}

// Shutdown drains in-flight tasks and rejects all further submissions.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	p.queue.Release()
}
