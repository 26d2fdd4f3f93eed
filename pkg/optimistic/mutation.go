package optimistic

import (
	"context"
	"fmt"
	"log/slog"
)

// mutation is one optimistic operation.
type mutation[T any] struct {
	name string

	// apply changes the cache and returns how to undo the change.
	apply func() (revert func(), err error)

	// call performs the network request.
	call func(ctx context.Context) (T, error)

	// commit reconciles the cache with the server's answer. Optional.
	commit func(T)
}

// start applies m and returns a function that completes it. Splitting the
// two lets callers return the optimistic state before the request ends.
func start[T any](logger *slog.Logger, m mutation[T]) (finish func(context.Context) (T, error), err error) {
	revert, err := m.apply()
	if err != nil {
		return nil, fmt.Errorf("optimistic: %s: %w", m.name, err)
	}
	return func(ctx context.Context) (T, error) {
		res, err := m.call(ctx)
		if err != nil {
			var zero T
			if revert != nil {
				revert()
			}
			logger.Warn("optimistic: reverted", "op", m.name, "error", err)
			return zero, fmt.Errorf("optimistic: %s: %w", m.name, err)
		}
		if m.commit != nil {
			m.commit(res)
		}
		return res, nil
	}, nil
}

// run applies m, performs the request and commits or reverts.
func run[T any](ctx context.Context, logger *slog.Logger, m mutation[T]) (T, error) {
	finish, err := start(logger, m)
	if err != nil {
		var zero T
		return zero, err
	}
	return finish(ctx)
}
