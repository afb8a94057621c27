package stitch

import "log/slog"

// SimpleAngleStrategy places frames purely by their reported bearings. It is
// the fast path for well-calibrated rigs: no feature matching, no closure
// correction, just projection and feathered compositing.
type SimpleAngleStrategy struct {
	asm angularAssembly
}

func NewSimpleAngle(opts Options, remap remapper, log *slog.Logger) *SimpleAngleStrategy {
	opts = opts.withDefaults()
	opts.FineTune = false
	opts.LoopClosure = false
	return &SimpleAngleStrategy{asm: angularAssembly{
		name:      "simple_angle",
		opts:      opts,
		projector: NewCylindricalProjector(remap),
		log:       log,
	}}
}

func (s *SimpleAngleStrategy) Name() string { return "simple_angle" }

func (s *SimpleAngleStrategy) Stitch(frames []*SourceFrame) (*MosaicResult, *Failure) {
	return s.asm.run(frames)
}
