package freestyle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollAttempts = 40
)

var errNotFinished = errors.New("deployment is still in progress")

// Wait polls the deployment at a fixed interval until it reaches a terminal
// phase or attempts run out. onUpdate, when set, receives every status read.
// The last status read is returned together with any error.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration, attempts uint, onUpdate func(*DeployStatus)) (*DeployStatus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if attempts == 0 {
		attempts = DefaultPollAttempts
	}

	var last *DeployStatus
	err := retry.Do(
		func() error {
			status, err := c.Status(ctx, id)
			if err != nil {
				return err
			}
			last = status
			if onUpdate != nil {
				onUpdate(status)
			}
			if !status.Phase.Terminal() {
				return errNotFinished
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("deploy not finished yet", zap.String("deploy_id", id), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		if errors.Is(err, errNotFinished) {
			return last, fmt.Errorf("deploy %s did not finish after %d polls", id, attempts)
		}
		return last, err
	}

	if last.Phase == PhaseFailed {
		return last, fmt.Errorf("deploy %s failed: %s", id, last.Status)
	}

	return last, nil
}
