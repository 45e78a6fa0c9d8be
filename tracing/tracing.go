// Package tracing configures OTel trace sampling and export for a pipeline
// run. Adapted from the teacher's tracing package (its Config/Sampler split
// between meter.go and sampling.go referenced a Config type the retrieved
// slice never defined); consolidated here into one coherent surface scoped
// to what the mining pipeline actually emits spans for: per-candidate
// stage execution, sandbox lifecycle, and LLM calls.
package tracing

// Config bundles the sampling and exporter settings for one process. A
// zero Config samples everything and exports nowhere, matching the
// teacher's "always sample, exporter optional" default.
type Config struct {
	ServiceName string `long:"service-name" description:"service name reported on exported spans" default:"taskforge-pipeline"`
	Sampling    SamplingConfig
	OTLP        OTLPConfig
}
