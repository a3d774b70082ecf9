// Package observability provides logging, metrics, and context propagation
// for the screening service.
//
// Logging uses zerolog with configurable level, format, and output. Metrics
// use Prometheus with a namespaced registry. Context helpers propagate the
// request ID, acting user, and workflow ID across layer boundaries.
package observability
