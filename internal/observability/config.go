// Package observability wires optional tracing and profiling into the server.
package observability

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	// EnablePprofTrace mounts net/http/pprof under /debug/pprof/.
	EnablePprofTrace bool
	// OTelEndpoint is the OTLP/HTTP collector URL. Empty disables tracing.
	OTelEndpoint string
	// OTelEnabled lets operators switch tracing off without clearing the
	// endpoint.
	OTelEnabled bool
	ServiceName string
}
