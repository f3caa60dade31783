package model

import "context"

// Job is one detection request handed from the API to a worker. The worker
// sends exactly one JobResult on Reply, which must be buffered.
type Job struct {
	ID     string
	Ctx    context.Context //nolint:containedctx // request scope travels with the job
	Upload Upload
	Reply  chan<- JobResult
}

// JobResult is the outcome of a Job.
type JobResult struct {
	Report Report
	Err    error
}

// Respond delivers r without blocking. A nil or already answered Reply is
// ignored.
func (j Job) Respond(r JobResult) { //nolint:gocritic // hugeParam
	if j.Reply == nil {
		return
	}
	select {
	case j.Reply <- r:
	default:
	}
}
