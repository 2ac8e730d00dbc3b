// Package samples registers a few demonstration tasks. Both the CLI and the
// handler bootstrap import it, so the remote side can resolve the same
// names the dispatcher serializes.
package samples

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/task"
)

// RegisterAll adds the sample tasks to r.
func RegisterAll(r *task.Registry) {
	r.MustRegister("math.add", add)
	r.MustRegister("strings.join", join)
	r.MustRegister("sleep.echo", sleepEcho)
}

func add(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	var sum float64
	for _, a := range args {
		n, err := asFloat(a)
		if err != nil {
			return nil, err
		}
		sum += n
	}
	return sum, nil
}

func join(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	sep := ","
	if s, ok := kwargs["sep"].(string); ok {
		sep = s
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, sep), nil
}

func sleepEcho(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if ms, ok := kwargs["delay_ms"]; ok {
		if n, err := asFloat(ms); err == nil {
			select {
			case <-time.After(time.Duration(n) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
