package progression

import (
	"laxhq-progression/pkg/taskname"
	"laxhq-progression/services/notification"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("progression.service",
	fx.Provide(
		func(s *notification.Service) Dispatcher { return s },
		func(c *asynq.Client) Enqueuer { return c },
		NewService,
	),
)

// SchedulerModule runs the daily sweep enqueue loop.
var SchedulerModule = fx.Module("progression.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(StartScheduler),
)

// TaskModule registers the sweep handler on the worker's mux.
var TaskModule = fx.Module("progression.task",
	fx.Invoke(registerTaskHandler),
)

func registerTaskHandler(mux *asynq.ServeMux, service *Service) {
	mux.HandleFunc(taskname.ProgressionSweep, service.HandleSweepTask)
}
