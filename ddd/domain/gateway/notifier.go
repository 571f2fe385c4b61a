package gateway

import "context"

// Notifier delivers best-effort completion callbacks to the external
// system that owns the correlation id. Failures are logged by callers and
// never fail the job.
type Notifier interface {
	NotifyCompleted(ctx context.Context, correlationID, hlsMasterURL string) error
}
