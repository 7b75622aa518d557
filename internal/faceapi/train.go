package faceapi

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTrainPollInterval = time.Second
	defaultTrainTimeout      = 60 * time.Second
)

// TrainAndWait starts training and polls its status until it finishes.
// It returns ErrTrainingTimeout when timeout elapses first and a *TrainingFailedError
// when the service reports failure. Nothing is rolled back on timeout.
func (c *Client) TrainAndWait(ctx context.Context, pollInterval, timeout time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = defaultTrainPollInterval
	}
	if timeout <= 0 {
		timeout = defaultTrainTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timedOut := func() bool {
		return waitCtx.Err() != nil && ctx.Err() == nil
	}

	if err := c.Train(waitCtx); err != nil {
		if timedOut() {
			return ErrTrainingTimeout
		}
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.TrainingStatus(waitCtx)
		switch {
		case err != nil && timedOut():
			return ErrTrainingTimeout
		case err != nil:
			return err
		case status.Status == TrainingSucceeded:
			c.log.Info("person group training finished", zap.String("group", c.groupID))
			return nil
		case status.Status == TrainingFailed:
			return &TrainingFailedError{Message: status.Message}
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if timedOut() {
				return ErrTrainingTimeout
			}
			return ctx.Err()
		}
	}
}
