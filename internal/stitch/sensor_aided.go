package stitch

import "log/slog"

// SensorAidedStrategy seeds placement from bearings and refines each step
// with feature matches inside the predicted overlap, then redistributes any
// loop closure error over full revolutions. This is the default strategy.
type SensorAidedStrategy struct {
	asm angularAssembly
}

func NewSensorAided(opts Options, remap remapper, matcher overlapMatcher, log *slog.Logger) *SensorAidedStrategy {
	return &SensorAidedStrategy{asm: angularAssembly{
		name:      "sensor_aided",
		opts:      opts.withDefaults(),
		projector: NewCylindricalProjector(remap),
		matcher:   matcher,
		log:       log,
	}}
}

func (s *SensorAidedStrategy) Name() string { return "sensor_aided" }

func (s *SensorAidedStrategy) Stitch(frames []*SourceFrame) (*MosaicResult, *Failure) {
	return s.asm.run(frames)
}
