package taskname

const (
	// SchedulerSweep runs one assignment sweep on whichever replica dequeues it.
	SchedulerSweep = "scheduler:sweep"
)
