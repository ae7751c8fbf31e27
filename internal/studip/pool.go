package studip

import (
	"context"
	"sync"

	"github.com/fknorr/studip-client/internal/model"
	"github.com/fknorr/studip-client/internal/parse"
)

// detailJob is one file-detail page to fetch and parse.
type detailJob struct {
	courseID string
	url      string
}

type detailResult struct {
	file model.File
	err  error
}

// detailPool is the fixed-size worker pool used during bulk metadata-detail
// fetches. Each worker owns an independent web client carrying a snapshot of
// the session cookies taken at pool creation. Jobs are enqueued without
// blocking the dispatcher; results drain in completion order, one course
// batch at a time. Cancellation is cooperative: close cancels the pool
// context, which interrupts in-flight requests and wakes idle workers.
type detailPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	cond  *sync.Cond
	queue []detailJob
	batch int

	results chan detailResult

	errMu    sync.Mutex
	firstErr error
}

func newDetailPool(ctx context.Context, workers int, web Web) *detailPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &detailPool{
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan detailResult, workers),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < workers; i++ {
		w := web.Clone()
		p.wg.Add(1)
		go p.worker(w)
	}

	// Wake idle workers when the pool context ends so they can exit.
	go func() {
		<-ctx.Done()
		p.cond.Broadcast()
	}()

	return p
}

// add enqueues a job. It never blocks.
func (p *detailPool) add(job detailJob) {
	p.mu.Lock()
	p.queue = append(p.queue, job)
	p.batch++
	p.mu.Unlock()
	p.cond.Signal()
}

// drain consumes all results of the current batch in completion order,
// calling handle for each successfully parsed record. The first worker or
// handler error aborts the drain; the batch counter resets either way so the
// next course starts clean.
func (p *detailPool) drain(handle func(model.File) error) error {
	p.mu.Lock()
	n := p.batch
	p.batch = 0
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		select {
		case res := <-p.results:
			if res.err != nil {
				return res.err
			}
			if err := handle(res.file); err != nil {
				return err
			}
		case <-p.ctx.Done():
			return p.ctx.Err()
		}
	}
	return nil
}

// close cancels outstanding work, joins all workers and returns the first
// worker error, if any.
func (p *detailPool) close() error {
	p.cancel()
	p.cond.Broadcast()
	p.wg.Wait()

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.firstErr
}

func (p *detailPool) setErr(err error) {
	p.errMu.Lock()
	if p.firstErr == nil {
		p.firstErr = err
	}
	p.errMu.Unlock()
}

// next blocks until a job is available or the pool is cancelled.
func (p *detailPool) next() (detailJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 {
		if p.ctx.Err() != nil {
			return detailJob{}, false
		}
		p.cond.Wait()
	}
	job := p.queue[0]
	p.queue = p.queue[1:]
	return job, true
}

func (p *detailPool) worker(web Web) {
	defer p.wg.Done()
	for {
		job, ok := p.next()
		if !ok {
			return
		}

		var res detailResult
		page, err := web.GetText(p.ctx, job.url)
		if err != nil {
			res.err = &SessionError{Op: "unable to fetch file details", Err: err}
		} else if file, err := parse.FileDetails(page); err != nil {
			res.err = &SessionError{Op: "unable to parse file details", Err: err}
		} else {
			file.Course = job.courseID
			res.file = file
		}

		if res.err != nil {
			p.setErr(res.err)
		}

		select {
		case p.results <- res:
		case <-p.ctx.Done():
			return
		}
	}
}
