// Package telemetry provides logging, tracing and metrics for allocsync.
//
// Logging uses zerolog. Report rows are the program output on stdout, so
// logs go to stderr unless configured otherwise. The -v flag maps to a
// level through LevelForVerbosity:
//
//	0  error
//	1  warn (default)
//	2  info
//	3  debug
//
// Tracing uses OpenTelemetry with a none, stdout or otlp exporter. Every run
// gets a span and every reconciled entity a child span.
//
// Metrics are Prometheus counters per job: entities by outcome, actions by
// kind and state, run duration. One-shot commands write them to a node
// exporter textfile; the serve command exposes them over HTTP.
//
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.Component("driver")
package telemetry
