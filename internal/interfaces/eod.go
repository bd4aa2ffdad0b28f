package interfaces

import (
	"context"
	"time"
)

type EodSummarizer interface {
	SummarizeDay(ctx context.Context, day time.Time) (csvPath string, err error)
	ShouldRunNow(now time.Time) (shouldRun bool, csvPath string)
}
