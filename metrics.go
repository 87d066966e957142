package hvac

import "github.com/bbbhvac/hvaccore/internal/telemetry"

// Re-export the telemetry surface for public API consumers: embedders
// wire a *Metrics into the board workers and HVAC loop and expose it
// however they see fit (telemetry.Serve, or their own mux).
type Metrics = telemetry.Metrics

var NewMetrics = telemetry.New
