// Package telemetry wires OpenTelemetry tracing and pipeline metrics for the
// sanitization service.
//
// It centralises trace provider setup and offers helpers that attach
// decision outcomes to spans. Every helper records types, counts and verdicts
// only; entity values and request text never become span attributes or
// metric labels.
package telemetry
