package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"payment-service/internal/consumers"
)

type Worker struct {
	Processor *consumers.QueryProcessor
}

func NewWorker(processor *consumers.QueryProcessor) *Worker {
	return &Worker{
		Processor: processor,
	}
}

func (w *Worker) HandleStkQuery(ctx context.Context, t *asynq.Task) error {
	var p consumers.StkQueryDTO
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessStatusQuery(ctx, p)
}

// Register wires the worker's handlers onto the given mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeStkQuery, w.HandleStkQuery)
}
