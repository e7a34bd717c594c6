package tasks

import (
	"context"
	"time"
)

type Rotator interface {
	RotateIfNeeded()
}

// LogRotation re-checks the log day on a timer so a quiet feed still rolls over at midnight
type LogRotation struct {
	log      Rotator
	interval time.Duration
}

func NewLogRotation(log Rotator, interval time.Duration) *LogRotation {
	return &LogRotation{log: log, interval: interval}
}

func (t *LogRotation) Run(ctx context.Context) error {
	t.log.RotateIfNeeded()
	return nil
}

func (t *LogRotation) Interval() time.Duration { return t.interval }

func (t *LogRotation) Name() string { return "log_rotation" }
