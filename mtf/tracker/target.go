// Package tracker drives one or more search methods over a frame sequence.
package tracker

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/LdDl/mtf-go/mtf"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TargetParams configures centroid prediction and track history of a target
type TargetParams struct {
	// Dt is the time between frames
	Dt float64
	// MaxTrackLen bounds the centroid history
	MaxTrackLen int
	// Kalman filter props
	Ux       float64
	Uy       float64
	StdDevA  float64
	StdDevMx float64
	StdDevMy float64
}

// DefaultTargetParams returns unit time step and 150 points of history
func DefaultTargetParams() TargetParams {
	return TargetParams{
		Dt:          1.0,
		MaxTrackLen: 150,
		Ux:          1.0,
		Uy:          1.0,
		StdDevA:     2.0,
		StdDevMx:    0.1,
		StdDevMy:    0.1,
	}
}

// Validate checks parameters
func (p TargetParams) Validate() error {
	if p.Dt <= 0 {
		return mtf.NewConfigurationError(targetName, "time step must be positive, got %v", p.Dt)
	}
	if p.MaxTrackLen <= 0 {
		return mtf.NewConfigurationError(targetName, "max track length must be positive, got %d", p.MaxTrackLen)
	}
	if p.StdDevA < 0 || p.StdDevMx <= 0 || p.StdDevMy <= 0 {
		return mtf.NewConfigurationError(targetName, "kalman deviations must be positive, got a=%v mx=%v my=%v", p.StdDevA, p.StdDevMx, p.StdDevMy)
	}
	return nil
}

const targetName = "target"

// Target is a single tracked region driven by its own search method.
//
// The Kalman filter only predicts where the centroid should be next frame.
// Corners always come from the search method.
type Target struct {
	id        uuid.UUID
	method    mtf.SearchMethod
	params    TargetParams
	corners   mtf.Corners
	center    mtf.Point
	predicted mtf.Point
	track     []mtf.Point
	failures  int
	frames    int
	lastErr   error
	kf        *kalman_filter.Kalman2D
	logger    *mtf.Logger
}

// NewTarget initializes method on the region of img and starts tracking it
func NewTarget(method mtf.SearchMethod, img mtf.Image, corners mtf.Corners, params TargetParams, logger *mtf.Logger) (*Target, error) {
	if method == nil {
		return nil, mtf.NewConfigurationError(targetName, "search method is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := method.Initialize(img, corners); err != nil {
		return nil, errors.Wrap(err, "Can't initialize search method")
	}
	target := Target{
		id:     uuid.New(),
		method: method,
		params: params,
		track:  make([]mtf.Point, 0, params.MaxTrackLen),
	}
	target.logger = logger.OrNoop().WithTarget(target.id)
	target.reset(method.Corners())
	return &target, nil
}

func (target *Target) reset(corners mtf.Corners) {
	p := target.params
	target.corners = corners
	target.center = corners.Centroid()
	target.predicted = target.center
	target.failures = 0
	target.kf = kalman_filter.NewKalman2D(p.Dt, p.Ux, p.Uy, p.StdDevA, p.StdDevMx, p.StdDevMy, kalman_filter.WithState2D(target.center.X, target.center.Y))
	target.appendTrack(target.center)
}

func (target *Target) appendTrack(p mtf.Point) {
	target.track = append(target.track, p)
	if len(target.track) > target.params.MaxTrackLen {
		target.track = target.track[1:]
	}
}

// GetID returns target's identifier
func (target *Target) GetID() uuid.UUID {
	return target.id
}

// Method returns underlying search method
func (target *Target) Method() mtf.SearchMethod {
	return target.method
}

// GetCorners returns last valid corners
func (target *Target) GetCorners() mtf.Corners {
	return target.corners
}

// GetCenter returns centroid of the last valid corners
func (target *Target) GetCenter() mtf.Point {
	return target.center
}

// GetPredictedCenter returns centroid expected on the frame being processed
func (target *Target) GetPredictedCenter() mtf.Point {
	return target.predicted
}

// GetPredictedBBox returns bounding box of last corners centered on the predicted centroid
func (target *Target) GetPredictedBBox() mtf.Rectangle {
	r := target.corners.BoundingRect()
	return mtf.Rectangle{
		X:      target.predicted.X - r.Width/2.0,
		Y:      target.predicted.Y - r.Height/2.0,
		Width:  r.Width,
		Height: r.Height,
	}
}

// GetTrack returns centroid history. Be careful: this is not copy of track, but reference to it
func (target *Target) GetTrack() []mtf.Point {
	return target.track
}

// GetFailures returns number of consecutive failed frames
func (target *Target) GetFailures() int {
	return target.failures
}

// Lost reports whether the last frame failed
func (target *Target) Lost() bool {
	return target.failures > 0
}

// LastError returns error of the last failed frame, nil after a success
func (target *Target) LastError() error {
	return target.lastErr
}

// PredictNextPosition executes Kalman filter's first step
func (target *Target) PredictNextPosition() {
	target.kf.Predict()
	x, y := target.kf.GetState()
	target.predicted = mtf.Point{X: x, Y: y}
}

// Update runs the search method on img. On failure the last valid corners are kept and the failure counter grows.
func (target *Target) Update(img mtf.Image) error {
	target.frames++
	target.PredictNextPosition()
	err := target.method.Update(img)
	if err == nil && !target.method.Corners().IsFinite() {
		err = mtf.NewNumericError(targetName, "search method produced non-finite corners %v", target.method.Corners())
		if rollbackErr := target.method.SetRegion(target.corners); rollbackErr != nil {
			err = errors.Wrapf(rollbackErr, "Can't restore corners after: %v", err)
		}
	}
	if err != nil {
		target.failures++
		target.lastErr = err
		target.logger.Debug("target failed", "frame", target.frames, "failures", target.failures, "error", err)
		return err
	}
	target.corners = target.method.Corners()
	target.center = target.corners.Centroid()
	target.failures = 0
	target.lastErr = nil
	if err := target.kf.Update(target.center.X, target.center.Y); err != nil {
		return errors.Wrap(err, "Can't update centroid predictor")
	}
	target.appendTrack(target.center)
	return nil
}

// Reacquire moves the target onto externally detected corners and restarts the predictor there
func (target *Target) Reacquire(corners mtf.Corners) error {
	if !corners.IsFinite() {
		return mtf.NewConfigurationError(targetName, "reacquired corners must be finite, got %v", corners)
	}
	if err := target.method.SetRegion(corners); err != nil {
		return errors.Wrapf(err, "Can't move target %s", target.id)
	}
	target.lastErr = nil
	target.reset(target.method.Corners())
	target.logger.Info("target reacquired", "frame", target.frames, "center", target.center)
	return nil
}
