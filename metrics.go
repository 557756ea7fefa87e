package coalesce

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	// MetricEstablishCount counts establishment attempts actually
	// started, not callers: N callers joined on one attempt count once.
	MetricEstablishCount        = []string{"coalesce", "establish", "count"}
	MetricEstablishErrorCount   = []string{"coalesce", "establish", "error", "count"}
	MetricEstablishDuration     = []string{"coalesce", "establish", "duration"}
	MetricEstablishJoinedCount  = []string{"coalesce", "establish", "joined", "count"}
	MetricEndpointReuseCount    = []string{"coalesce", "endpoint", "reuse", "count"}
	MetricEndpointDeadCount     = []string{"coalesce", "endpoint", "dead", "count"}
	MetricEndpointTeardownCount = []string{"coalesce", "endpoint", "teardown", "count"}
	MetricActiveCallers         = []string{"coalesce", "callers", "active"}
	MetricLingerCancelledCount  = []string{"coalesce", "linger", "cancelled", "count"}
)

type TelemetryLabel string

var (
	LabelError    TelemetryLabel = "error"
	LabelTarget   TelemetryLabel = "target"
	LabelReason   TelemetryLabel = "reason"
	LabelDuration TelemetryLabel = "duration"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
