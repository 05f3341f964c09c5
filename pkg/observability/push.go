package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
)

// PushMetrics sends the store, phase and verification metrics of this
// process to a Prometheus Pushgateway. Each push replaces the previous one
// with the same job and grouping labels.
func PushMetrics(ctx context.Context, url, job string, grouping map[string]string) error {
	pusher := push.New(url, job).
		Collector(storeOperationsTotal).
		Collector(storeOperationDuration).
		Collector(phaseRecordsTotal).
		Collector(verificationIssuesTotal).
		Collector(verificationRunsTotal)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
