package stitch

import (
	"fmt"
	"log/slog"

	"pan360/internal/vision"
)

// Kind names a registered assembly strategy.
type Kind string

const (
	KindSimpleAngle Kind = "simple_angle"
	KindSensorAided Kind = "sensor_aided"
	KindAuto        Kind = "opencv_auto"
	KindManual      Kind = "manual"
)

// Kinds lists the registered strategy names in presentation order.
func Kinds() []Kind {
	return []Kind{KindSensorAided, KindSimpleAngle, KindAuto, KindManual}
}

// Describe returns a one-line summary for a strategy kind.
func Describe(kind Kind) string {
	switch kind {
	case KindSimpleAngle:
		return "bearing-only placement, fastest, needs a calibrated rig"
	case KindSensorAided:
		return "bearing-seeded placement refined by feature matches (default)"
	case KindAuto:
		return "OpenCV high-level stitcher, no bearings required"
	case KindManual:
		return "explicit detect/match/estimate pipeline, no bearings required"
	default:
		return "unknown"
	}
}

// New builds the named strategy wired to the given vision engine. An
// unrecognized kind is an unsupported configuration.
func New(kind Kind, opts Options, eng *vision.Engine, log *slog.Logger) (Strategy, *Failure) {
	switch kind {
	case KindSimpleAngle:
		return NewSimpleAngle(opts, eng, log), nil
	case KindSensorAided:
		return NewSensorAided(opts, eng, eng, log), nil
	case KindAuto:
		return NewAuto(opts, eng, log), nil
	case KindManual:
		return NewManualPipeline(opts, eng, eng, log), nil
	default:
		return nil, failf(FailUnsupportedConfig, "unknown strategy %q (have %v)", kind, Kinds())
	}
}

// ParseKind validates a strategy name from config or the CLI.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSimpleAngle, KindSensorAided, KindAuto, KindManual:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q (have %v)", s, Kinds())
}
