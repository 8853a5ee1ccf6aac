package parallel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nemanja-m/goparallel/internal/shared/wire"
	"github.com/nemanja-m/goparallel/pkg/core"
	"github.com/nemanja-m/goparallel/pkg/pool"
)

var ErrEmptyReduce = errors.New("parallel: reduce of an empty sequence")

func (j *job) run(kind core.Kind, symbol string, input any, snap snapshot) (any, error) {
	switch kind {
	case core.KindSpawn:
		ticket := j.pool.Submit(j.task(kind, symbol, 0, input, snap))
		values, err := j.collect([]*pool.Ticket{ticket}, nil)
		if err != nil {
			return nil, err
		}
		return values[0], nil

	case core.KindMap:
		data, err := sequence(kind, input)
		if err != nil {
			return nil, err
		}
		return j.scatter(kind, symbol, data, snap)

	case core.KindReduce:
		data, err := sequence(kind, input)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, ErrEmptyReduce
		}
		for len(data) > 1 {
			pairs, leftover := core.Pairs(data)
			reduced, err := j.scatter(kind, symbol, pairs, snap)
			if err != nil {
				return nil, err
			}
			next := make([]any, 0, len(leftover)+len(reduced))
			next = append(next, leftover...)
			data = append(next, reduced...)
		}
		return data[0], nil
	}
	return nil, fmt.Errorf("unknown operator %q", kind)
}

// scatter splits data across the pool, submits every slice before waiting on
// any, and joins the element-wise results back in input order.
func (j *job) scatter(kind core.Kind, symbol string, data []any, snap snapshot) ([]any, error) {
	parts := core.Split(data, j.pool.Size())
	if len(parts) == 0 {
		return []any{}, nil
	}

	tickets := make([]*pool.Ticket, len(parts))
	for i, part := range parts {
		tickets[i] = j.pool.Submit(j.task(kind, symbol, i, part, snap))
	}

	validate := func(index int, v any) error {
		out, ok := v.([]any)
		if !ok || len(out) != len(parts[index]) {
			return &core.TaskExecutionError{
				Message: fmt.Sprintf("%s slice %d returned %s for %d inputs", kind, index, describe(v), len(parts[index])),
			}
		}
		return nil
	}
	values, err := j.collect(tickets, validate)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(data))
	for _, v := range values {
		out = append(out, v.([]any)...)
	}
	return out, nil
}

func (j *job) task(kind core.Kind, symbol string, index int, data any, snap snapshot) *core.Task {
	return &core.Task{
		ID:           uuid.New(),
		JobID:        j.id,
		Kind:         kind,
		Fn:           symbol,
		Index:        index,
		Data:         data,
		Env:          snap.env,
		Namespace:    j.namespace,
		Requirements: snap.requirements,
	}
}

// collect waits for tickets and returns their values by index. It returns as
// soon as the outcome is decided; results still in flight are drained in the
// background and recorded as ignored.
func (j *job) collect(tickets []*pool.Ticket, validate func(int, any) error) ([]any, error) {
	asm := newAssembler(len(tickets), validate)
	outcomes := make(chan outcome, len(tickets))
	for i, t := range tickets {
		go func() {
			r, err := t.Wait(context.Background())
			outcomes <- outcome{index: i, result: r, err: err}
		}()
	}

	received := 0
	for received < len(tickets) && !asm.decided() {
		asm.add(<-outcomes)
		received++
	}
	values, err := asm.values()

	if remaining := len(tickets) - received; remaining > 0 {
		go func() {
			for range remaining {
				asm.add(<-outcomes)
			}
			j.logger.Debug("Ignored results of rejected call", "indices", asm.ignored)
		}()
	}
	return values, err
}

func sequence(kind core.Kind, v any) ([]any, error) {
	if s, ok := v.([]any); ok {
		return s, nil
	}
	normalized, err := wire.Normalize(v)
	if err != nil {
		return nil, err
	}
	s, err := core.Sequence(normalized)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return s, nil
}

func describe(v any) string {
	if s, ok := v.([]any); ok {
		return fmt.Sprintf("%d values", len(s))
	}
	return fmt.Sprintf("%T", v)
}
