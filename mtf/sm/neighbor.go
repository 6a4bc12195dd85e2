package sm

import (
	"math/rand/v2"
	"time"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/LdDl/mtf-go/mtf/dataset"
	"github.com/LdDl/mtf-go/mtf/gnn"
	"gonum.org/v1/gonum/floats"
)

// NeighborSearch matches the current patch against patches of known perturbations of the template.
//
// The dataset and its index are built (or loaded) by Initialize and owned by the search until Close.
type NeighborSearch struct {
	params        NeighborParams
	am            mtf.AppearanceModel
	ssm           mtf.StateSpaceModel
	opts          options
	distrs        []Distribution
	usingPixSigma bool

	db    *dataset.Dataset
	index *gnn.HNSW

	initialized bool
	frame       int
	iters       int
	prevCorners mtf.Corners
	bestIdx     int
	bestDist    float64

	patch  []float64
	delta  []float64
	backup []float64
}

// NewNeighborSearch validates sampler configuration against the state space model
func NewNeighborSearch(am mtf.AppearanceModel, ssm mtf.StateSpaceModel, params NeighborParams, optFns ...Option) (*NeighborSearch, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := checkModels(neighborName, am, ssm); err != nil {
		return nil, err
	}
	nSamples := params.NSamples
	if len(params.SamplerNSamples) > 0 {
		nSamples = 0
		for _, n := range params.SamplerNSamples {
			nSamples += n
		}
	}
	distrs, usingPixSigma, err := ProcessDistributions(neighborName, params.SSMSigma, params.SSMMean, params.PixSigma, nSamples, ssm.StateSize())
	if err != nil {
		return nil, err
	}
	if len(params.SamplerNSamples) > 0 {
		if len(params.SamplerNSamples) != len(distrs) {
			return nil, mtf.NewConfigurationError(neighborName, "%d sampler sizes given for %d distributions", len(params.SamplerNSamples), len(distrs))
		}
		for i, n := range params.SamplerNSamples {
			distrs[i].NSamples = n
		}
	}
	return &NeighborSearch{
		params:        params,
		am:            am,
		ssm:           ssm,
		opts:          newOptions(neighborName, optFns),
		distrs:        distrs,
		usingPixSigma: usingPixSigma,
		bestIdx:       -1,
		backup:        make([]float64, ssm.StateSize()),
	}, nil
}

func (ns *NeighborSearch) Name() string                  { return neighborName }
func (ns *NeighborSearch) AM() mtf.AppearanceModel       { return ns.am }
func (ns *NeighborSearch) SSM() mtf.StateSpaceModel      { return ns.ssm }
func (ns *NeighborSearch) Corners() mtf.Corners          { return ns.ssm.Corners() }
func (ns *NeighborSearch) PrevCorners() mtf.Corners      { return ns.prevCorners }
func (ns *NeighborSearch) Distributions() []Distribution { return ns.distrs }
func (ns *NeighborSearch) Dataset() *dataset.Dataset     { return ns.db }
func (ns *NeighborSearch) Index() *gnn.HNSW              { return ns.index }

// BestMatch returns row and distance of the last match, -1 before the first update
func (ns *NeighborSearch) BestMatch() (int, float64) {
	return ns.bestIdx, ns.bestDist
}

// Initialize captures the template and builds or loads the dataset
func (ns *NeighborSearch) Initialize(img mtf.Image, corners mtf.Corners) error {
	ns.Close()
	if err := ns.ssm.Initialize(corners); err != nil {
		return err
	}
	ns.patch = mtf.ExtractPatch(ns.patch, img, ns.ssm.Pts())
	ns.am.SetTemplate(ns.patch)
	ns.am.InitializeSimilarity()
	ns.am.InitializeDistFeat()

	if ns.params.LoadIndex {
		if err := ns.loadDataset(); err != nil {
			return err
		}
	} else {
		if err := ns.generateDataset(img); err != nil {
			ns.Close()
			return err
		}
		if ns.params.SaveIndex {
			if err := dataset.Save(ns.db, ns.index, ns.params.SavedDBPath, ns.params.SavedIdxPath); err != nil {
				ns.Close()
				return err
			}
			ns.opts.logger.Info("dataset saved", "db", ns.params.SavedDBPath, "index", ns.params.SavedIdxPath)
		}
	}

	ns.prevCorners = ns.ssm.Corners()
	ns.frame = 0
	ns.bestIdx = -1
	ns.initialized = true
	return nil
}

func (ns *NeighborSearch) distFunc() gnn.DistanceFunc {
	return gnn.DistanceFunc(ns.am.DistFunc())
}

func (ns *NeighborSearch) loadDataset() error {
	db, err := dataset.LoadDB(ns.params.SavedDBPath, ns.am.DistFeatSize(), ns.ssm.StateSize())
	if err != nil {
		return err
	}
	index, err := dataset.LoadIndex(ns.params.SavedIdxPath, db, ns.distFunc())
	if err != nil {
		return err
	}
	ns.db, ns.index = db, index
	st := index.Stats()
	ns.opts.logger.Info("dataset loaded",
		"rows", db.Rows(),
		"db", ns.params.SavedDBPath,
		"index_levels", st.MaxLevel+1,
		"avg_degree", st.AvgConnections[0],
	)
	return nil
}

// generateDataset draws all perturbations sequentially, computes features in parallel
// and inserts them into the index in sample order.
func (ns *NeighborSearch) generateDataset(img mtf.Image) error {
	start := time.Now()
	slots := distributionOfSlot(ns.distrs)
	stateSize := ns.ssm.StateSize()
	refState := append([]float64(nil), ns.ssm.State()...)

	db, err := dataset.New(len(slots), ns.am.DistFeatSize(), stateSize, refState)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(ns.params.Seed, ns.params.Seed))
	perturbations := make([][]float64, len(slots))
	for i, distrID := range slots {
		perturbations[i] = drawPerturbation(nil, ns.ssm, rng, ns.distrs[distrID], ns.usingPixSigma)
	}

	err = parallelRange(len(slots), ns.params.Workers, func(lo, hi int) error {
		state := make([]float64, stateSize)
		var pts []mtf.Point
		var patch, feat []float64
		for i := lo; i < hi; i++ {
			ns.perturbedState(state, refState, perturbations[i])
			pts = ns.ssm.WarpPts(pts, state)
			patch = mtf.ExtractPatch(patch, img, pts)
			feat = ns.am.DistFeatOf(feat, patch)
			if floats.HasNaN(feat) {
				return mtf.NewNumericError(neighborName, "feature of sample %d is degenerate", i)
			}
			if err := db.SetRow(i, feat, perturbations[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	index := gnn.New(db.FeatDim, ns.distFunc(), func(o *gnn.Options) {
		*o = ns.params.Index
	})
	for i := 0; i < db.Rows(); i++ {
		if _, err := index.Insert(db.Feature(i)); err != nil {
			return mtf.NewLogicError(neighborName, "inserting sample %d: %v", i, err)
		}
	}
	ns.db, ns.index = db, index
	st := index.Stats()
	ns.opts.logger.Info("dataset generated",
		"rows", db.Rows(),
		"index_levels", st.MaxLevel+1,
		"avg_degree", st.AvgConnections[0],
		"distributions", len(ns.distrs),
		"pix_sigma", ns.usingPixSigma,
		"duration", time.Since(start),
	)
	return nil
}

func (ns *NeighborSearch) perturbedState(dst, ref, delta []float64) {
	if ns.params.AdditiveUpdate {
		for i := range dst {
			dst[i] = ref[i] + delta[i]
		}
		return
	}
	ns.ssm.ComposeStates(dst, ref, delta)
}

// Query returns the nearest dataset row to the given feature
func (ns *NeighborSearch) Query(feat []float64) (int, float64, error) {
	if ns.index == nil {
		return -1, 0, mtf.NewLogicError(neighborName, "query called before initialize")
	}
	if floats.HasNaN(feat) {
		return -1, 0, mtf.NewNumericError(neighborName, "query feature contains NaN")
	}
	res, err := ns.index.Search(feat, 1, ns.params.Index.EFSearch)
	if err != nil {
		return -1, 0, mtf.NewLogicError(neighborName, "index search failed: %v", err)
	}
	return int(res[0].ID), res[0].Distance, nil
}

// Update moves the state by the inverse of the best matching perturbation
func (ns *NeighborSearch) Update(img mtf.Image) error {
	if !ns.initialized {
		return mtf.NewLogicError(neighborName, "update called before initialize")
	}
	start := time.Now()
	ns.frame++
	ns.prevCorners = ns.ssm.Corners()
	copy(ns.backup, ns.ssm.State())

	iters, err := ns.iterate(img)
	ns.iters = iters
	if err != nil {
		ns.ssm.SetState(ns.backup)
	}
	ns.opts.collector.RecordFrame(neighborName, ns.frame, iters, time.Since(start), err)
	ns.opts.logger.LogFrame(ns.frame, iters, err)
	return err
}

func (ns *NeighborSearch) iterate(img mtf.Image) (int, error) {
	for i := 0; i < ns.params.MaxIters; i++ {
		before := ns.ssm.Corners()
		ns.patch = mtf.ExtractPatch(ns.patch, img, ns.ssm.Pts())
		ns.am.SetPatch(ns.patch)
		ns.am.UpdateDistFeat()

		idx, dist, err := ns.Query(ns.am.DistFeat())
		if err != nil {
			return i + 1, err
		}
		ns.bestIdx, ns.bestDist = idx, dist

		perturbation := ns.db.Perturbation(idx)
		if ns.params.AdditiveUpdate {
			ns.delta = ensureLen(ns.delta, len(perturbation))
			for j, v := range perturbation {
				ns.delta[j] = -v
			}
			ns.ssm.AdditiveUpdate(ns.delta)
		} else {
			ns.delta = ns.ssm.InvertState(ns.delta, perturbation)
			ns.ssm.CompositionalUpdate(ns.delta)
		}

		change := ns.ssm.Corners().MaxDeviation(before)
		ns.opts.collector.RecordIteration(neighborName, ns.frame, i+1, change)
		if change < ns.params.Epsilon {
			return i + 1, nil
		}
	}
	return ns.params.MaxIters, nil
}

// SetRegion moves the region without touching the dataset
func (ns *NeighborSearch) SetRegion(corners mtf.Corners) error {
	if !ns.initialized {
		return mtf.NewLogicError(neighborName, "set region called before initialize")
	}
	ns.prevCorners = ns.ssm.Corners()
	return ns.ssm.SetCorners(corners)
}

// Close releases the index and then the dataset it was built from
func (ns *NeighborSearch) Close() {
	ns.index = nil
	ns.db = nil
	ns.initialized = false
}

func ensureLen(dst []float64, n int) []float64 {
	if len(dst) != n {
		return make([]float64, n)
	}
	return dst
}
