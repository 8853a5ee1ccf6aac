package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nemanja-m/goparallel/internal/shared/config"
	"github.com/nemanja-m/goparallel/internal/shared/wire"
	"github.com/nemanja-m/goparallel/pkg/core"
)

// WorkerClient is the parent side of the connection to one worker process.
type WorkerClient struct {
	conn *grpc.ClientConn
	addr string
}

// NewWorkerClient connects to a worker listening on a unix socket.
func NewWorkerClient(socket string, cfg config.WorkerGRPCConfig) (*WorkerClient, error) {
	addr := "unix://" + socket
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                cfg.KeepaliveTime,
				Timeout:             cfg.KeepaliveTimeout,
				PermitWithoutStream: true,
			},
		),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  10 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   time.Second,
			},
			MinConnectTimeout: time.Second,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker: %w", err)
	}
	return &WorkerClient{conn: conn, addr: addr}, nil
}

// Execute sends task and waits for its result. A non-nil error means the
// call itself failed; task failures arrive as a failed TaskResult.
func (c *WorkerClient) Execute(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
	req, err := wire.EncodeTask(task)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, ExecuteMethod, req, resp, grpc.WaitForReady(true)); err != nil {
		return nil, fmt.Errorf("failed to execute task on %s: %w", c.addr, err)
	}
	return wire.DecodeResult(resp)
}

func (c *WorkerClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
