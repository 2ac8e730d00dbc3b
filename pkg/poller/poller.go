// Package poller implements bounded waiting for external conditions: the
// appearance of transfer objects in the store and the remote function
// reaching its Active state. Both waits share one budget discipline so no
// loop in the plugin can hang forever.
package poller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AgnostiqHQ/covalent-awslambda-plugin/pkg/objstore"
)

// TimeoutError reports an exhausted wait budget.
type TimeoutError struct {
	What    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.What)
}

// Wait evaluates probe once per interval until it reports done, the budget
// is exhausted, or ctx is canceled. The budget is quantized: each sweep
// costs exactly one interval regardless of how long the probe itself takes.
// Probe errors abort the wait immediately; they are never retried here.
func Wait(ctx context.Context, what string, interval, timeout time.Duration, probe func(context.Context) (bool, error)) error {
	remaining := timeout
	for {
		done, err := probe(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if remaining <= 0 {
			return &TimeoutError{What: what, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		remaining -= interval
	}
}

// FirstExisting sweeps the candidate keys in order and returns the first one
// that exists in the store. Candidate order is a tie-break preference when
// several keys are present at once, not a filter: any key observed during a
// sweep wins. Which key appeared is the outcome signal, so the caller can
// distinguish success from failure without a side channel.
func FirstExisting(ctx context.Context, store objstore.Store, bucket string, keys []string, interval, timeout time.Duration) (string, error) {
	var matched string
	what := "objects " + strings.Join(keys, ", ")
	err := Wait(ctx, what, interval, timeout, func(ctx context.Context) (bool, error) {
		for _, k := range keys {
			ok, err := store.Exists(ctx, bucket, k)
			if err != nil {
				return false, err
			}
			if ok {
				matched = k
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	zap.L().Debug("transfer object appeared", zap.String("bucket", bucket), zap.String("key", matched))
	return matched, nil
}
