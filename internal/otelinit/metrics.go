package otelinit

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Instruments holds the cross-cutting counters every subsystem in this
// repository shares, mirroring the grouping convention the rest of the
// fleet uses for its per-service instrument structs.
type Instruments struct {
	TicksUsed         metric.Int64Histogram
	BudgetViolations  metric.Int64Counter
	GuardFailures     metric.Int64Counter
	TimerFires        metric.Int64Counter
	ReceiptAppends    metric.Int64Counter
	RetryAttempts     metric.Int64Counter
	CircuitOpenEvents metric.Int64Counter
}

// InitMetrics installs a periodic-reading MeterProvider and returns a
// shutdown func plus the shared instrument set.
func InitMetrics(ctx context.Context, service string) (func(context.Context) error, Instruments, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, Instruments{}, err
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(service)))
	if err != nil {
		return nil, Instruments{}, err
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	meter := otel.Meter(service)
	inst, err := createCommonInstruments(meter)
	if err != nil {
		return nil, Instruments{}, err
	}

	return mp.Shutdown, inst, nil
}

func createCommonInstruments(meter metric.Meter) (Instruments, error) {
	var inst Instruments
	var err error

	inst.TicksUsed, err = meter.Int64Histogram("yawl_step_ticks_used")
	if err != nil {
		return inst, err
	}
	inst.BudgetViolations, err = meter.Int64Counter("yawl_budget_violations_total")
	if err != nil {
		return inst, err
	}
	inst.GuardFailures, err = meter.Int64Counter("yawl_guard_failures_total")
	if err != nil {
		return inst, err
	}
	inst.TimerFires, err = meter.Int64Counter("yawl_timer_fires_total")
	if err != nil {
		return inst, err
	}
	inst.ReceiptAppends, err = meter.Int64Counter("yawl_receipt_appends_total")
	if err != nil {
		return inst, err
	}
	inst.RetryAttempts, err = meter.Int64Counter("yawl_resilience_retry_attempts_total")
	if err != nil {
		return inst, err
	}
	inst.CircuitOpenEvents, err = meter.Int64Counter("yawl_resilience_circuit_open_total")
	if err != nil {
		return inst, err
	}
	return inst, nil
}
