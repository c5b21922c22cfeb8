package sink

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/shortontech/cloakgate/internal/metrics"
	"github.com/shortontech/cloakgate/pkg/config"
)

// FromConfig builds one sink per entry in cfg.Outputs. Sinks are returned
// unstarted.
func FromConfig(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) ([]Sink, error) {
	var sinks []Sink
	for _, name := range cfg.Outputs {
		switch name {
		case "log":
			sinks = append(sinks, NewLogSink(cfg.LogPath))
		case "kafka":
			sinks = append(sinks, NewKafkaSink(cfg.Kafka, logger))
		case "postgres":
			sinks = append(sinks, NewPGSink(cfg.PGSink, logger, m))
		default:
			return nil, fmt.Errorf("unknown output %q", name)
		}
	}
	return sinks, nil
}
