// Package otel publishes clinicauth engine counters as OpenTelemetry
// observable instruments. Values are read from the engine snapshot at
// collection time; nothing is recorded on the request path.
package otel
