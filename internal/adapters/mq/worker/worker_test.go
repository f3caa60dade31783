package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/ewaste/internal/adapters/mq/queue"
	"github.com/okian/ewaste/internal/adapters/mq/worker"
	"github.com/okian/ewaste/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	jobs chan model.Job
}

func newMockQueue() *mockQueue {
	return &mockQueue{jobs: make(chan model.Job, 10)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan model.Job { return mq.jobs }

func (mq *mockQueue) Close() error {
	close(mq.jobs)
	return nil
}

type mockProcessor struct {
	mu     sync.Mutex
	seen   []string
	errors map[string]error
	delay  time.Duration
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{errors: make(map[string]error)}
}

func (mp *mockProcessor) Process(ctx context.Context, upload model.Upload) (model.Report, error) {
	if mp.delay > 0 {
		time.Sleep(mp.delay)
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.seen = append(mp.seen, upload.Filename)
	if err, ok := mp.errors[upload.Filename]; ok {
		return model.Report{}, err
	}
	return model.Report{OriginalImage: "/api/images/" + upload.Filename}, nil
}

func (mp *mockProcessor) processed() []string {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return append([]string(nil), mp.seen...)
}

// gatedProcessor blocks on "slow.png" until release is closed.
type gatedProcessor struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedProcessor) Process(ctx context.Context, upload model.Upload) (model.Report, error) {
	if upload.Filename == "slow.png" {
		g.started <- struct{}{}
		<-g.release
	}
	return model.Report{OriginalImage: "/api/images/" + upload.Filename}, nil
}

func newJob(ctx context.Context, name string) (model.Job, chan model.JobResult) {
	reply := make(chan model.JobResult, 1)
	return model.Job{ID: name, Ctx: ctx, Upload: model.Upload{Filename: name}, Reply: reply}, reply
}

func await(reply chan model.JobResult) (model.JobResult, bool) {
	select {
	case r := <-reply:
		return r, true
	case <-time.After(time.Second):
		return model.JobResult{}, false
	}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running worker", t, func() {
		q := newMockQueue()
		proc := newMockProcessor()
		w := worker.NewInMemoryWorker(q, proc, worker.WithName("test-worker"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When a job is processed", func() {
			job, reply := newJob(context.Background(), "a.png")
			q.jobs <- job
			res, ok := await(reply)

			convey.Convey("Then the report should be sent back", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(res.Err, convey.ShouldBeNil)
				convey.So(res.Report.OriginalImage, convey.ShouldEqual, "/api/images/a.png")
			})
		})

		convey.Convey("When processing fails", func() {
			proc.errors["bad.png"] = errors.New("detector down")
			job, reply := newJob(context.Background(), "bad.png")
			q.jobs <- job
			res, ok := await(reply)

			convey.Convey("Then the error should be sent back", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(res.Err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the requester has already gone", func() {
			gone, goneCancel := context.WithCancel(context.Background())
			goneCancel()
			job, reply := newJob(gone, "late.png")
			q.jobs <- job
			res, ok := await(reply)

			convey.Convey("Then the job should be skipped", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(errors.Is(res.Err, context.Canceled), convey.ShouldBeTrue)
				convey.So(proc.processed(), convey.ShouldNotContain, "late.png")
			})
		})

		convey.Convey("When shutting down", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer shutdownCancel()

			convey.Convey("Then it should stop gracefully", func() {
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		convey.Convey("When created with a non-positive count", func() {
			pool := worker.NewPool(0, newMockQueue(), newMockProcessor(), nil)

			convey.Convey("Then it should default to a CPU based size", func() {
				convey.So(pool.Size(), convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When started over a real queue", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(10))
			proc := newMockProcessor()
			proc.delay = 5 * time.Millisecond
			pool := worker.NewPool(3, q, proc, nil)
			pool.Start(context.Background())

			replies := make([]chan model.JobResult, 0, 6)
			for _, name := range []string{"1.png", "2.png", "3.png", "4.png", "5.png", "6.png"} {
				job, reply := newJob(context.Background(), name)
				convey.So(q.Enqueue(context.Background(), job), convey.ShouldBeTrue)
				replies = append(replies, reply)
			}

			convey.Convey("Then every job should be answered", func() {
				for _, reply := range replies {
					res, ok := await(reply)
					convey.So(ok, convey.ShouldBeTrue)
					convey.So(res.Err, convey.ShouldBeNil)
				}
				convey.So(proc.processed(), convey.ShouldHaveLength, 6)
				convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			})

			convey.Convey("Then shutdown should drain queued jobs first", func() {
				convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
				for _, reply := range replies {
					_, ok := await(reply)
					convey.So(ok, convey.ShouldBeTrue)
				}
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When one worker is busy with a slow job", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(1))
			proc := &gatedProcessor{started: make(chan struct{}, 1), release: make(chan struct{})}
			pool := worker.NewPool(2, q, proc, nil)
			pool.Start(context.Background())

			slow, slowReply := newJob(context.Background(), "slow.png")
			convey.So(q.Enqueue(context.Background(), slow), convey.ShouldBeTrue)
			<-proc.started

			fast, fastReply := newJob(context.Background(), "fast.png")
			convey.So(q.Enqueue(context.Background(), fast), convey.ShouldBeTrue)

			convey.Convey("Then the idle worker should take the next job", func() {
				res, ok := await(fastReply)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(res.Report.OriginalImage, convey.ShouldEqual, "/api/images/fast.png")
			})

			convey.Reset(func() {
				close(proc.release)
				_, ok := await(slowReply)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the only worker is busy", func() {
			q := queue.NewInMemoryQueue(queue.WithCapacity(1))
			proc := &gatedProcessor{started: make(chan struct{}, 1), release: make(chan struct{})}
			pool := worker.NewPool(1, q, proc, nil)
			pool.Start(context.Background())

			slow, slowReply := newJob(context.Background(), "slow.png")
			convey.So(q.Enqueue(context.Background(), slow), convey.ShouldBeTrue)
			<-proc.started
			next, nextReply := newJob(context.Background(), "next.png")
			convey.So(q.Enqueue(context.Background(), next), convey.ShouldBeTrue)
			time.Sleep(20 * time.Millisecond)

			convey.Convey("Then the next job should wait in the queue and fill it", func() {
				convey.So(q.Len(context.Background()), convey.ShouldEqual, 1)
				extra, _ := newJob(context.Background(), "extra.png")
				convey.So(q.Enqueue(context.Background(), extra), convey.ShouldBeFalse)
			})

			convey.Reset(func() {
				close(proc.release)
				for _, reply := range []chan model.JobResult{slowReply, nextReply} {
					_, ok := await(reply)
					convey.So(ok, convey.ShouldBeTrue)
				}
				convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			})
		})
	})
}
