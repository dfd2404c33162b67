package chain

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/Mindburn-Labs/helm-ledger/pkg/chain"

// Global providers delegate, so instruments created here start reporting once
// observability.New installs a real provider.
var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	appendedCounter = int64Counter("helm.ledger.entries.appended", "Envelopes written to a sink")
	verifiedCounter = int64Counter("helm.ledger.entries.verified", "Entries examined by the verifier")
	issueCounter    = int64Counter("helm.ledger.verification.issues", "Problems recorded by the verifier, by kind")
)

func int64Counter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter(name)
	}
	return c
}
