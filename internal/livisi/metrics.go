package livisi

import (
	"github.com/clambin/go-common/http/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"net/http"
	"strconv"
	"strings"
)

// NewRequestMetrics returns request metrics for calls to the controller. Capability IDs are removed from the
// path label, so the number of time series doesn't grow with the number of devices.
func NewRequestMetrics(namespace, subsystem string, labels prometheus.Labels) metrics.RequestMetrics {
	return metrics.NewRequestMetrics(metrics.Options{
		Namespace:   namespace,
		Subsystem:   subsystem,
		ConstLabels: labels,
		LabelValues: func(request *http.Request, i int) (string, string, string) {
			return request.Method, metricsPath(request.URL.Path), strconv.Itoa(i)
		},
	})
}

func metricsPath(path string) string {
	if path == "" {
		return "/"
	}
	if strings.HasPrefix(path, capabilityPrefix) && strings.HasSuffix(path, "/state") {
		return capabilityPrefix + "state"
	}
	return path
}
