package worker

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"payment-service/internal/consumers"
)

// Task Types
const (
	TypeStkQuery = "stk:query"
)

func NewStkQueryTask(payload consumers.StkQueryDTO) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeStkQuery, data), nil
}
