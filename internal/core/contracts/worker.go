package contracts

import "context"

type AsyncWorker interface {
	// Run starts the schedule and blocks until ctx is done.
	Run(ctx context.Context) error
	// Tick performs one unit of work, also used by the schedule.
	Tick(ctx context.Context) error
}
