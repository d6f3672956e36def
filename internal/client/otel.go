package client

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/warband/battlecore/internal/client"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
