package taskname

const (
	// Progression tasks
	ProgressionSweep = "progression:evaluation:sweep"

	// Notification tasks
	NotificationDispatch = "notification:dispatch"
)
