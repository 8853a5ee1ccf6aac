package grpc

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nemanja-m/goparallel/internal/shared/logging"
	"github.com/nemanja-m/goparallel/internal/shared/wire"
	"github.com/nemanja-m/goparallel/internal/worker/service"
)

type workerService struct {
	executor service.TaskExecutor
	logger   logging.Logger
}

func NewWorkerService(executor service.TaskExecutor, logger logging.Logger) WorkerServer {
	return &workerService{executor: executor, logger: logger}
}

func (s *workerService) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	task, err := wire.DecodeTask(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid task: %v", err)
	}

	s.logger.Debug("Received task",
		"task_id", task.ID,
		"job_id", task.JobID,
		"kind", task.Kind,
		"index", task.Index,
	)

	result := s.executor.Execute(ctx, task)
	if result.Failed() {
		s.logger.Debug("Task execution failed", "task_id", task.ID, "error", result.Err.Message)
	} else {
		s.logger.Debug("Task completed", "task_id", task.ID)
	}

	return wire.EncodeResult(result), nil
}
