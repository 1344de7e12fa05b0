package notify

import (
	"context"

	"cvewatch/internal/model"
)

// Notifier delivers one serialized report to its external channel.
// The returned status code is the upstream HTTP status for channels that have
// one, zero otherwise.
type Notifier interface {
	Send(ctx context.Context, report *model.Report) (statusCode int, err error)
}
