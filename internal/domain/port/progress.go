package port

import "github.com/anonvid/anonvid-processing-service/internal/domain/entity"

// ProgressSink receives the pipeline's typed progress stream. Consumers
// (queue publishers, loggers, tests) subscribe by implementing it; the
// orchestrator holds no progress state of its own.
type ProgressSink interface {
	Publish(event entity.ProgressEvent)
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(event entity.ProgressEvent)

func (f ProgressFunc) Publish(event entity.ProgressEvent) { f(event) }

// NopProgress discards all events.
var NopProgress ProgressSink = ProgressFunc(func(entity.ProgressEvent) {})
