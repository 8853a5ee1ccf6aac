package grpc

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nemanja-m/goparallel/internal/shared/config"
	"github.com/nemanja-m/goparallel/internal/shared/logging"
	"github.com/nemanja-m/goparallel/pkg/core"
)

type mockExecutor struct {
	execute func(task *core.Task) *core.TaskResult
}

func (m *mockExecutor) Execute(_ context.Context, task *core.Task) *core.TaskResult {
	return m.execute(task)
}

var testGRPCConfig = config.WorkerGRPCConfig{
	KeepaliveTime:    30 * time.Second,
	KeepaliveTimeout: 5 * time.Second,
}

func startServer(t *testing.T, executor *mockExecutor) *WorkerClient {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "w.sock")
	lis, err := net.Listen("unix", socket)
	require.NoError(t, err)

	server := NewServer(testGRPCConfig, executor, logging.NewNopLogger())
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	client, err := NewWorkerClient(socket, testGRPCConfig)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func newTask(data any) *core.Task {
	return &core.Task{
		ID:    uuid.New(),
		JobID: uuid.New(),
		Kind:  core.KindMap,
		Fn:    "example.Fn",
		Index: 1,
		Data:  data,
	}
}

func execCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestExecute_RoundTrip(t *testing.T) {
	client := startServer(t, &mockExecutor{execute: func(task *core.Task) *core.TaskResult {
		return core.Success(task, []any{task.Data, task.Fn})
	}})

	task := newTask("payload")
	result, err := client.Execute(execCtx(t), task)
	require.NoError(t, err)
	require.False(t, result.Failed())
	require.Equal(t, task.ID, result.TaskID)
	require.Equal(t, 1, result.Index)
	require.Equal(t, []any{"payload", "example.Fn"}, result.Value)
}

func TestExecute_TaskFailureIsAResult(t *testing.T) {
	client := startServer(t, &mockExecutor{execute: func(task *core.Task) *core.TaskResult {
		return core.Failure(task, errors.New("Test error"))
	}})

	result, err := client.Execute(execCtx(t), newTask(1.0))
	require.NoError(t, err)
	require.True(t, result.Failed())
	require.Equal(t, "Test error", result.Err.Message)
}

func TestExecute_PanicBecomesInternal(t *testing.T) {
	client := startServer(t, &mockExecutor{execute: func(*core.Task) *core.TaskResult {
		panic("executor blew up")
	}})

	_, err := client.Execute(execCtx(t), newTask(nil))
	require.Error(t, err)
	require.Equal(t, codes.Internal, status.Code(errors.Unwrap(err)))
}

func TestExecute_InvalidTask(t *testing.T) {
	client := startServer(t, &mockExecutor{execute: func(task *core.Task) *core.TaskResult {
		return core.Success(task, nil)
	}})

	req, err := structpb.NewStruct(map[string]any{"kind": "filter"})
	require.NoError(t, err)
	err = client.conn.Invoke(execCtx(t), ExecuteMethod, req, new(structpb.Struct))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
