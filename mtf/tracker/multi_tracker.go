package tracker

import (
	"bytes"
	"runtime"
	"slices"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const multiTrackerName = "multi_tracker"

// MultiTrackerParams configures target lifetime and reacquisition
type MultiTrackerParams struct {
	// Max number of consecutive failed frames before target is removed. Default is 5
	MaxFailures int
	// Minimum IoU between predicted box and detection to reacquire a lost target. Default is 0.3
	MinIoU float64
	// Max number of targets updated concurrently, 0 means GOMAXPROCS
	Workers int
	Target  TargetParams
}

// DefaultMultiTrackerParams returns defaults
func DefaultMultiTrackerParams() MultiTrackerParams {
	return MultiTrackerParams{
		MaxFailures: 5,
		MinIoU:      0.3,
		Target:      DefaultTargetParams(),
	}
}

// Validate checks parameters
func (p MultiTrackerParams) Validate() error {
	if p.MaxFailures < 0 {
		return mtf.NewConfigurationError(multiTrackerName, "max failures must be non-negative, got %d", p.MaxFailures)
	}
	if p.MinIoU < 0 || p.MinIoU > 1 {
		return mtf.NewConfigurationError(multiTrackerName, "min IoU must be in [0, 1], got %v", p.MinIoU)
	}
	if p.Workers < 0 {
		return mtf.NewConfigurationError(multiTrackerName, "workers must be non-negative, got %d", p.Workers)
	}
	return p.Target.Validate()
}

// MultiTracker runs independent targets over the same frames.
// Targets never share search methods, so they are updated concurrently.
type MultiTracker struct {
	// Main storage
	Targets map[uuid.UUID]*Target
	params  MultiTrackerParams
	logger  *mtf.Logger
	frame   int
}

// NewMultiTracker creates an empty tracker
func NewMultiTracker(params MultiTrackerParams, logger *mtf.Logger) (*MultiTracker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &MultiTracker{
		Targets: make(map[uuid.UUID]*Target),
		params:  params,
		logger:  logger.OrNoop().WithComponent(multiTrackerName),
	}, nil
}

// Add initializes method on corners of img and registers it as a new target
func (mt *MultiTracker) Add(method mtf.SearchMethod, img mtf.Image, corners mtf.Corners) (*Target, error) {
	target, err := NewTarget(method, img, corners, mt.params.Target, mt.logger)
	if err != nil {
		return nil, err
	}
	mt.Targets[target.GetID()] = target
	mt.logger.Info("target added", "target", target.GetID().String(), "method", method.Name())
	return target, nil
}

// Remove drops target, returns false if it is unknown
func (mt *MultiTracker) Remove(id uuid.UUID) bool {
	if _, ok := mt.Targets[id]; !ok {
		return false
	}
	delete(mt.Targets, id)
	return true
}

// sortedIDs returns target identifiers in byte order so matching does not depend on map iteration
func (mt *MultiTracker) sortedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(mt.Targets))
	for id := range mt.Targets {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return ids
}

// Update moves every target to img and removes those which failed more than MaxFailures frames in a row.
// Returns identifiers of removed targets.
func (mt *MultiTracker) Update(img mtf.Image) []uuid.UUID {
	mt.frame++
	workers := mt.params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for _, target := range mt.Targets {
		g.Go(func() error {
			// failure is recorded by the target itself
			_ = target.Update(img)
			return nil
		})
	}
	_ = g.Wait()

	removed := make([]uuid.UUID, 0)
	for _, id := range mt.sortedIDs() {
		target := mt.Targets[id]
		if target.GetFailures() > mt.params.MaxFailures {
			delete(mt.Targets, id)
			removed = append(removed, id)
			mt.logger.Info("target removed", "target", id.String(), "frame", mt.frame, "error", target.LastError())
		}
	}
	return removed
}

// Lost returns targets which failed on the last frame, ordered by identifier
func (mt *MultiTracker) Lost() []*Target {
	lost := make([]*Target, 0)
	for _, id := range mt.sortedIDs() {
		if mt.Targets[id].Lost() {
			lost = append(lost, mt.Targets[id])
		}
	}
	return lost
}

// Reacquire assigns external detections to lost targets by IoU of the predicted box.
// Returns matched detection index per target.
func (mt *MultiTracker) Reacquire(detections []mtf.Corners) (map[uuid.UUID]int, error) {
	matched := make(map[uuid.UUID]int)
	lost := mt.Lost()
	if len(lost) == 0 || len(detections) == 0 {
		return matched, nil
	}
	iouMatrix := make([][]float64, len(lost))
	for i, target := range lost {
		row := make([]float64, len(detections))
		predicted := target.GetPredictedBBox()
		for j, det := range detections {
			row[j] = mtf.IoU(predicted, det.BoundingRect())
		}
		iouMatrix[i] = row
	}
	for _, m := range assignMax(iouMatrix, len(lost), len(detections)) {
		if iouMatrix[m[0]][m[1]] < mt.params.MinIoU {
			continue
		}
		target := lost[m[0]]
		corners := reorderCorners(target.GetCorners(), detections[m[1]])
		if err := target.Reacquire(corners); err != nil {
			return matched, errors.Wrapf(err, "Can't reacquire target with id %s", target.GetID().String())
		}
		matched[target.GetID()] = m[1]
	}
	return matched, nil
}
