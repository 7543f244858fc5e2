package monitoring

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type otelInstruments struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// InstallMeter 让 ObservePrediction 同时写入 OpenTelemetry 指标
func (mc *MetricsCollector) InstallMeter(meter metric.Meter) error {
	requests, err := meter.Int64Counter("passpredict.predict.requests",
		metric.WithDescription("Total /predict requests"))
	if err != nil {
		return fmt.Errorf("create request counter: %w", err)
	}
	latency, err := meter.Float64Histogram("passpredict.predict.latency_ms",
		metric.WithDescription("/predict latency (ms)"),
		metric.WithUnit("ms"))
	if err != nil {
		return fmt.Errorf("create latency histogram: %w", err)
	}

	mc.metricsLock.Lock()
	mc.otel = &otelInstruments{requests: requests, latency: latency}
	mc.metricsLock.Unlock()
	return nil
}

func (o *otelInstruments) observe(outcome string, ms float64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	o.requests.Add(ctx, 1, attrs)
	o.latency.Record(ctx, ms, attrs)
}

// NewMeterProvider 创建定期把指标以 JSON 写到 w 的 MeterProvider
func NewMeterProvider(serviceName string, interval time.Duration, w io.Writer) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}
