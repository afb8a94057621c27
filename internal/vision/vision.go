// Package vision wraps the OpenCV primitives the stitching engines build
// on: image decode/encode, feature detection and matching, robust
// homography estimation, coordinate remapping and the high-level automatic
// stitcher. All gocv.Mat handles stay inside this package; callers exchange
// plain buffers and value types.
package vision

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"gocv.io/x/gocv"

	"pan360/internal/imaging"
)

// DetectorKind selects the keypoint detector/descriptor family.
type DetectorKind string

const (
	DetectorORB   DetectorKind = "orb"
	DetectorAKAZE DetectorKind = "akaze"
	DetectorSIFT  DetectorKind = "sift"
)

// MatcherKind selects the descriptor matcher.
type MatcherKind string

const (
	MatcherBruteForce MatcherKind = "bf"
	MatcherFLANN      MatcherKind = "flann"
)

// ParseDetector validates a detector name from configuration.
func ParseDetector(s string) (DetectorKind, error) {
	switch DetectorKind(strings.ToLower(s)) {
	case DetectorORB, DetectorAKAZE, DetectorSIFT:
		return DetectorKind(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown feature detector %q", s)
}

// ParseMatcher validates a matcher name from configuration.
func ParseMatcher(s string) (MatcherKind, error) {
	switch MatcherKind(strings.ToLower(s)) {
	case MatcherBruteForce, MatcherFLANN:
		return MatcherKind(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("unknown descriptor matcher %q", s)
}

// Point is a keypoint location in pixel coordinates.
type Point struct {
	X float64
	Y float64
}

// Candidate is one k-nearest match with its best and second-best descriptor
// distances, ready for a ratio test by the caller.
type Candidate struct {
	From  Point
	To    Point
	Dist  float64
	Dist2 float64
}

// Homography is a row-major 3x3 projective transform.
type Homography [3][3]float64

// Features holds detected keypoints plus the descriptor matrix used for
// matching. Close releases the descriptor storage.
type Features struct {
	Keypoints []Point

	desc    gocv.Mat
	hasDesc bool
}

// Close releases descriptor storage. Safe on zero-value Features.
func (f *Features) Close() {
	if f.hasDesc {
		f.desc.Close()
		f.hasDesc = false
	}
}

// StitchStatus mirrors the automatic stitcher's result codes.
type StitchStatus int

const (
	StitchOK StitchStatus = iota
	StitchNeedMoreImages
	StitchHomographyFailed
	StitchCameraParamsFailed
	StitchUnknownError
)

// StitchMode selects the automatic stitcher's motion model.
type StitchMode string

const (
	ModePanorama StitchMode = "panorama" // rotation-dominant capture
	ModeScans    StitchMode = "scans"    // planar/scanner-like capture
)

// Options configure an Engine.
type Options struct {
	Detector        DetectorKind
	Matcher         MatcherKind
	MaxFeatures     int
	ReprojThreshold float64
}

// Engine implements the vision capability over gocv.
type Engine struct {
	opts Options
}

// NewEngine validates options and returns a ready Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Detector == "" {
		opts.Detector = DetectorORB
	}
	if opts.Matcher == "" {
		opts.Matcher = MatcherBruteForce
	}
	if _, err := ParseDetector(string(opts.Detector)); err != nil {
		return nil, err
	}
	if _, err := ParseMatcher(string(opts.Matcher)); err != nil {
		return nil, err
	}
	if opts.MaxFeatures <= 0 {
		opts.MaxFeatures = 500
	}
	if opts.ReprojThreshold <= 0 {
		opts.ReprojThreshold = 5.0
	}
	return &Engine{opts: opts}, nil
}

// Decode reads an image file into an interleaved 8-bit buffer.
func (e *Engine) Decode(path string) (*imaging.Image, error) {
	m := gocv.IMRead(path, gocv.IMReadColor)
	if m.Empty() {
		return nil, fmt.Errorf("decode %s: unreadable or not an image", path)
	}
	defer m.Close()
	return matToImage(m)
}

// Encode writes an interleaved 8-bit buffer to path; the format follows the
// file extension.
func (e *Engine) Encode(path string, img *imaging.Image) error {
	m, err := imageToMat(img)
	if err != nil {
		return err
	}
	defer m.Close()
	if ok := gocv.IMWrite(path, m); !ok {
		return fmt.Errorf("encode %s: imwrite failed", path)
	}
	return nil
}

// DetectAndDescribe finds keypoints and descriptors on the grayscale
// rendition of img using the configured detector.
func (e *Engine) DetectAndDescribe(img *imaging.Image) (*Features, error) {
	m, err := imageToMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)

	mask := gocv.NewMat()
	defer mask.Close()

	var kps []gocv.KeyPoint
	var desc gocv.Mat

	switch e.opts.Detector {
	case DetectorAKAZE:
		det := gocv.NewAKAZE()
		defer det.Close()
		kps, desc = det.DetectAndCompute(gray, mask)
	case DetectorSIFT:
		det := gocv.NewSIFT()
		defer det.Close()
		kps, desc = det.DetectAndCompute(gray, mask)
	default:
		det := gocv.NewORBWithParams(e.opts.MaxFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
		defer det.Close()
		kps, desc = det.DetectAndCompute(gray, mask)
	}

	pts := make([]Point, len(kps))
	for i, kp := range kps {
		pts[i] = Point{X: kp.X, Y: kp.Y}
	}
	return &Features{Keypoints: pts, desc: desc, hasDesc: true}, nil
}

// MatchCandidates runs k-nearest matching (k=2) from a to b and flattens
// each pair into a ratio-testable Candidate.
func (e *Engine) MatchCandidates(a, b *Features) ([]Candidate, error) {
	if !a.hasDesc || !b.hasDesc || a.desc.Empty() || b.desc.Empty() {
		return nil, nil
	}

	queryDesc, trainDesc := a.desc, b.desc

	// FLANN's default KD-tree index needs float descriptors; binary
	// descriptors (ORB, AKAZE) are converted first.
	var converted []gocv.Mat
	if e.opts.Matcher == MatcherFLANN && queryDesc.Type() != gocv.MatTypeCV32F {
		qf, tf := gocv.NewMat(), gocv.NewMat()
		queryDesc.ConvertTo(&qf, gocv.MatTypeCV32F)
		trainDesc.ConvertTo(&tf, gocv.MatTypeCV32F)
		queryDesc, trainDesc = qf, tf
		converted = append(converted, qf, tf)
	}
	defer func() {
		for i := range converted {
			converted[i].Close()
		}
	}()

	var pairs [][]gocv.DMatch
	if e.opts.Matcher == MatcherFLANN {
		matcher := gocv.NewFlannBasedMatcher()
		defer matcher.Close()
		pairs = matcher.KnnMatch(queryDesc, trainDesc, 2)
	} else {
		norm := gocv.NormHamming
		if e.opts.Detector == DetectorSIFT {
			norm = gocv.NormL2
		}
		matcher := gocv.NewBFMatcherWithParams(norm, false)
		defer matcher.Close()
		pairs = matcher.KnnMatch(queryDesc, trainDesc, 2)
	}

	out := make([]Candidate, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			continue
		}
		m, n := pair[0], pair[1]
		if m.QueryIdx >= len(a.Keypoints) || m.TrainIdx >= len(b.Keypoints) {
			continue
		}
		out = append(out, Candidate{
			From:  a.Keypoints[m.QueryIdx],
			To:    b.Keypoints[m.TrainIdx],
			Dist:  m.Distance,
			Dist2: n.Distance,
		})
	}
	return out, nil
}

// MatchImages detects features on both images and returns the k-nearest
// candidates between them. Convenience for overlap-window refinement.
func (e *Engine) MatchImages(a, b *imaging.Image) ([]Candidate, error) {
	fa, err := e.DetectAndDescribe(a)
	if err != nil {
		return nil, err
	}
	defer fa.Close()
	fb, err := e.DetectAndDescribe(b)
	if err != nil {
		return nil, err
	}
	defer fb.Close()
	return e.MatchCandidates(fa, fb)
}

// EstimateHomography fits a RANSAC homography from src to dst point pairs
// and returns it with the inlier count.
func (e *Engine) EstimateHomography(src, dst []Point) (Homography, int, error) {
	var h Homography
	if len(src) < 4 || len(src) != len(dst) {
		return h, 0, fmt.Errorf("homography needs >=4 point pairs, got %d/%d", len(src), len(dst))
	}

	srcMat := gocv.NewMatWithSize(len(src), 1, gocv.MatTypeCV64FC2)
	defer srcMat.Close()
	dstMat := gocv.NewMatWithSize(len(dst), 1, gocv.MatTypeCV64FC2)
	defer dstMat.Close()
	for i := range src {
		srcMat.SetDoubleAt(i, 0, src[i].X)
		srcMat.SetDoubleAt(i, 1, src[i].Y)
		dstMat.SetDoubleAt(i, 0, dst[i].X)
		dstMat.SetDoubleAt(i, 1, dst[i].Y)
	}

	mask := gocv.NewMat()
	defer mask.Close()

	hm := gocv.FindHomography(srcMat, &dstMat, gocv.HomographyMethodRANSAC, e.opts.ReprojThreshold, &mask, 2000, 0.995)
	defer hm.Close()
	if hm.Empty() {
		return h, 0, fmt.Errorf("homography estimation failed for %d pairs", len(src))
	}

	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] = hm.GetDoubleAt(r, c)
		}
	}

	inliers := 0
	for i := 0; i < mask.Rows(); i++ {
		if mask.GetUCharAt(i, 0) != 0 {
			inliers++
		}
	}
	return h, inliers, nil
}

// Remap resamples img through per-pixel source coordinate maps using
// bilinear interpolation; out-of-bounds samples become black.
func (e *Engine) Remap(img *imaging.Image, mapX, mapY []float32) (*imaging.Image, error) {
	if len(mapX) != img.Width*img.Height || len(mapY) != len(mapX) {
		return nil, fmt.Errorf("coordinate maps must be %d entries, got %d/%d", img.Width*img.Height, len(mapX), len(mapY))
	}

	src, err := imageToMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	mx, err := matFromFloat32(img.Height, img.Width, mapX)
	if err != nil {
		return nil, err
	}
	defer mx.Close()
	my, err := matFromFloat32(img.Height, img.Width, mapY)
	if err != nil {
		return nil, err
	}
	defer my.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Remap(src, &dst, mx, my, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})

	return matToImage(dst)
}

// AutoStitch runs OpenCV's high-level stitcher over the frames.
func (e *Engine) AutoStitch(images []*imaging.Image, mode StitchMode) (StitchStatus, *imaging.Image, error) {
	cvMode := gocv.StitcherPanorama
	if mode == ModeScans {
		cvMode = gocv.StitcherScans
	}

	mats := make([]gocv.Mat, 0, len(images))
	defer func() {
		for i := range mats {
			mats[i].Close()
		}
	}()
	for _, img := range images {
		m, err := imageToMat(img)
		if err != nil {
			return StitchUnknownError, nil, err
		}
		mats = append(mats, m)
	}

	stitcher := gocv.NewStitcher(cvMode)
	defer stitcher.Close()

	pano := gocv.NewMat()
	defer pano.Close()

	status := stitcher.Stitch(mats, &pano)
	switch status {
	case gocv.StitcherOK:
		out, err := matToImage(pano)
		if err != nil {
			return StitchUnknownError, nil, err
		}
		return StitchOK, out, nil
	case gocv.StitcherErrNeedMoreImgs:
		return StitchNeedMoreImages, nil, nil
	case gocv.StitcherErrHomographyEstFail:
		return StitchHomographyFailed, nil, nil
	case gocv.StitcherErrCameraParamsAdjustFail:
		return StitchCameraParamsFailed, nil, nil
	default:
		return StitchUnknownError, nil, nil
	}
}

func imageToMat(img *imaging.Image) (gocv.Mat, error) {
	if img == nil || len(img.Pix) != img.Width*img.Height*imaging.Channels {
		return gocv.Mat{}, fmt.Errorf("invalid image buffer")
	}
	return gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, img.Pix)
}

func matToImage(m gocv.Mat) (*imaging.Image, error) {
	if m.Type() != gocv.MatTypeCV8UC3 {
		conv := gocv.NewMat()
		defer conv.Close()
		m.ConvertTo(&conv, gocv.MatTypeCV8UC3)
		return imaging.FromPix(conv.Cols(), conv.Rows(), conv.ToBytes())
	}
	return imaging.FromPix(m.Cols(), m.Rows(), m.ToBytes())
}

func matFromFloat32(rows, cols int, vals []float32) (gocv.Mat, error) {
	buf := make([]byte, len(vals)*4)
	for i, v := range vals {
		bits := math.Float32bits(v)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV32F, buf)
}
