/*
Package telemetry wires OpenTelemetry into betpilot.

Setup builds tracer and meter providers for the configured exporter
("stdout", "otlp-grpc" or "otlp-http") and returns an OTelProvider, which
implements core.Telemetry. Components only ever see core.Telemetry, so the
executor and the reconciler run unchanged with telemetry disabled.

Usage:

	provider, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Name)
	if err != nil {
	    return err
	}
	defer provider.Shutdown(context.Background())

	healer.Telemetry = provider

Metrics are recorded by name through RecordMetric. Instruments are created
lazily and cached in MetricInstruments; names ending in "_ms" become
histograms and everything else a counter.
*/
package telemetry
