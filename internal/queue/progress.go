// Package queue holds the work queues of an image import: one queue of
// directories to create, one of files to copy and one of files to verify.
// Queues report their [Progress] for the terminal user interface.
package queue

import "time"

// Progress is a snapshot of a queue's processing state.
type Progress struct {
	HasStarted  bool
	HasFinished bool
	StartTime   time.Time
	FinishTime  time.Time

	ProgressPct     float64
	TotalItems      int
	ProcessedItems  int
	InProgressItems int
	SuccessItems    int
	SkippedItems    int
	FailedItems     int

	Bytes    uint64
	ETA      time.Time
	TimeLeft time.Duration

	// ItemsPerSec and BytesPerSec are zero until some items are done.
	ItemsPerSec float64
	BytesPerSec float64
}
