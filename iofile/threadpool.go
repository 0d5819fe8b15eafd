package iofile

import "sync"

// job is one unit of async work submitted to the ThreadPool.
type job struct {
	run func()
}

// Future resolves once its job has run, exposing the job's count and any
// error. For this package's file and span reads and writes the count is in
// bytes, not in elements.
type Future struct {
	wg  sync.WaitGroup
	n   int
	err error
}

func newFuture() *Future {
	f := &Future{}
	f.wg.Add(1)
	return f
}

func (f *Future) complete(n int, err error) {
	f.n, f.err = n, err
	f.wg.Done()
}

// Wait blocks until the job completes and returns its result.
func (f *Future) Wait() (int, error) {
	f.wg.Wait()
	return f.n, f.err
}

// ThreadPool is the fixed-size async I/O worker pool. Jobs submitted for
// the same fileKey run in submission order (FIFO per physical file); jobs
// for distinct files may run concurrently across workers.
//
// Ordering is implemented with one single-goroutine queue per fileKey:
// buffered channels give FIFO-per-file plus bounded total concurrency
// without a condition-variable-guarded shared queue.
type ThreadPool struct {
	mu     sync.Mutex
	queues map[string]chan job
	sem    chan struct{} // bounds total concurrently-running jobs across files
}

// NewThreadPool starts a pool with size concurrent workers.
func NewThreadPool(size int) *ThreadPool {
	if size <= 0 {
		size = 1
	}
	return &ThreadPool{
		queues: make(map[string]chan job),
		sem:    make(chan struct{}, size),
	}
}

// Submit enqueues run for fileKey and returns a Future that resolves with
// run's (n, err) once run has executed.
func (tp *ThreadPool) Submit(fileKey string, run func() (int, error)) *Future {
	fut := newFuture()
	tp.mu.Lock()
	q, ok := tp.queues[fileKey]
	if !ok {
		q = make(chan job, 256)
		tp.queues[fileKey] = q
		go tp.drain(q)
	}
	tp.mu.Unlock()

	q <- job{run: func() {
		tp.sem <- struct{}{}
		n, err := run()
		<-tp.sem
		fut.complete(n, err)
	}}
	return fut
}

// drain runs jobs for one fileKey strictly in submission order, forever
// (the per-file channel is never closed; it is simply abandoned once a file
// is no longer used, which is acceptable since it holds no OS resources).
func (tp *ThreadPool) drain(q chan job) {
	for j := range q {
		j.run()
	}
}

// Read submits an async positioned read job for file at off into buf.
func (tp *ThreadPool) Read(f *ImmutableFile, buf []byte, off int64) *Future {
	return tp.Submit(f.Path(), func() (int, error) {
		return f.ReadAt(buf, off)
	})
}

// Append submits an async append job for f.
func (tp *ThreadPool) Append(f *OutputFile, buf []byte) *Future {
	return tp.Submit(f.path, func() (int, error) {
		return f.Append(buf)
	})
}
