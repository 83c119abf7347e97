// Package prometheus renders authcore metrics in Prometheus text
// exposition format.
//
// [NewExporter] accepts an [authcore.Engine] and exposes an
// [net/http.Handler] that renders every counter and the session
// validation latency histogram. Counter names are prefixed
// authcore_*_total; the histogram is authcore_validate_latency_seconds.
//
// The exporter reads point-in-time snapshots from the engine. It does
// not register with a Prometheus client library, touch a global
// registry, or mutate engine state; callers mount the Handler
// themselves.
package prometheus
