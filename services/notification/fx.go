package notification

import (
	"laxhq-progression/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(NewService),
)

// TaskModule registers the dispatch handler on the worker's mux.
var TaskModule = fx.Module("notification.task",
	fx.Invoke(registerTaskHandler),
)

func registerTaskHandler(mux *asynq.ServeMux, service *Service) {
	mux.HandleFunc(taskname.NotificationDispatch, service.HandleDispatchTask)
}
