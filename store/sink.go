package store

import (
	"go.uber.org/zap"

	"github.com/BaSui01/expflow/types"
)

// LogSink logs every recorded fact. Useful as a default sink and as a
// template for real downstream integrations.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs facts through the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) AssignmentRecorded(a *types.Assignment) {
	s.logger.Info("assignment recorded",
		zap.String("experiment", a.Experiment),
		zap.String("participant_id", a.ParticipantID),
		zap.String("variant", a.Variant),
	)
}

func (s *LogSink) ConversionRecorded(c *types.Conversion) {
	s.logger.Info("conversion recorded",
		zap.String("experiment", c.Experiment),
		zap.String("participant_id", c.ParticipantID),
		zap.String("variant", c.Variant),
		zap.String("goal", c.Goal),
	)
}

// MultiSink fans a fact out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) AssignmentRecorded(a *types.Assignment) {
	for _, s := range m {
		s.AssignmentRecorded(a)
	}
}

func (m MultiSink) ConversionRecorded(c *types.Conversion) {
	for _, s := range m {
		s.ConversionRecorded(c)
	}
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (MultiSink)(nil)
)
