package queue

// Rejection reasons reported to metrics.
const (
	reasonClosed    = "closed"
	reasonFull      = "full"
	reasonCancelled = "context_cancelled"
)
