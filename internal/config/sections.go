package config

import (
	"github.com/LdDl/mtf-go/mtf/am"
	"github.com/LdDl/mtf-go/mtf/sm"
	"github.com/LdDl/mtf-go/mtf/ssm"
	"github.com/LdDl/mtf-go/mtf/tracker"
)

// Every section resolves into component parameters with Params.
// A nil section or a nil field keeps the default of the component.

// SSIMConfig configures the appearance model
type SSIMConfig struct {
	K1              *float64 `json:"k1,omitempty"`
	K2              *float64 `json:"k2,omitempty"`
	DynamicRange    *float64 `json:"dynamic_range,omitempty"`
	LikelihoodAlpha *float64 `json:"likelihood_alpha,omitempty"`
}

// Params returns validated SSIM parameters
func (s *SSIMConfig) Params() (am.SSIMParams, error) {
	p := am.DefaultSSIMParams()
	if s != nil {
		setFloat64(&p.K1, s.K1)
		setFloat64(&p.K2, s.K2)
		setFloat64(&p.DynamicRange, s.DynamicRange)
		setFloat64(&p.LikelihoodAlpha, s.LikelihoodAlpha)
	}
	return p, p.Validate()
}

// IsometryConfig configures the state space model
type IsometryConfig struct {
	Resx            *int  `json:"resx,omitempty"`
	Resy            *int  `json:"resy,omitempty"`
	PtBasedSampling *bool `json:"pt_based_sampling,omitempty"`
}

// Params returns validated isometry parameters
func (s *IsometryConfig) Params() (ssm.IsometryParams, error) {
	p := ssm.DefaultIsometryParams()
	if s != nil {
		setInt(&p.Resx, s.Resx)
		setInt(&p.Resy, s.Resy)
		setBool(&p.PtBasedSampling, s.PtBasedSampling)
	}
	return p, p.Validate()
}

// GradientConfig configures GradientSearch
type GradientConfig struct {
	MaxIters   *int     `json:"max_iters,omitempty"`
	Epsilon    *float64 `json:"epsilon,omitempty"`
	HessType   *string  `json:"hess_type,omitempty"`
	UpdateType *string  `json:"update_type,omitempty"`
	MaxCond    *float64 `json:"max_cond,omitempty"`
}

// Params returns validated gradient search parameters
func (s *GradientConfig) Params() (sm.GradientParams, error) {
	p := sm.DefaultGradientParams()
	if s == nil {
		return p, nil
	}
	setInt(&p.MaxIters, s.MaxIters)
	setFloat64(&p.Epsilon, s.Epsilon)
	setFloat64(&p.MaxCond, s.MaxCond)
	if s.HessType != nil {
		v, err := sm.ParseHessType(*s.HessType)
		if err != nil {
			return p, err
		}
		p.HessType = v
	}
	if s.UpdateType != nil {
		v, err := sm.ParseUpdateType(*s.UpdateType)
		if err != nil {
			return p, err
		}
		p.UpdateType = v
	}
	return p, p.Validate()
}

// IndexConfig configures the approximate nearest neighbour graph
type IndexConfig struct {
	M         *int    `json:"m,omitempty"`
	EF        *int    `json:"ef,omitempty"`
	EFSearch  *int    `json:"ef_search,omitempty"`
	Heuristic *bool   `json:"heuristic,omitempty"`
	Seed      *uint64 `json:"seed,omitempty"`
}

// NeighborConfig configures NeighborSearch
type NeighborConfig struct {
	NSamples        *int         `json:"n_samples,omitempty"`
	SamplerNSamples []int        `json:"sampler_n_samples,omitempty"`
	SSMSigma        [][]float64  `json:"ssm_sigma,omitempty"`
	SSMMean         [][]float64  `json:"ssm_mean,omitempty"`
	PixSigma        []float64    `json:"pix_sigma,omitempty"`
	MaxIters        *int         `json:"max_iters,omitempty"`
	Epsilon         *float64     `json:"epsilon,omitempty"`
	AdditiveUpdate  *bool        `json:"additive_update,omitempty"`
	LoadIndex       *bool        `json:"load_index,omitempty"`
	SaveIndex       *bool        `json:"save_index,omitempty"`
	SavedDBPath     *string      `json:"saved_db_path,omitempty"`
	SavedIdxPath    *string      `json:"saved_idx_path,omitempty"`
	Index           *IndexConfig `json:"index,omitempty"`
	Seed            *uint64      `json:"seed,omitempty"`
	Workers         *int         `json:"workers,omitempty"`
}

// Params returns neighbor search parameters. Checks depending on the state size run in the constructor.
func (s *NeighborConfig) Params() (sm.NeighborParams, error) {
	p := sm.DefaultNeighborParams()
	if s == nil {
		return p, nil
	}
	setInt(&p.NSamples, s.NSamples)
	if s.SamplerNSamples != nil {
		p.SamplerNSamples = s.SamplerNSamples
	}
	if s.SSMSigma != nil {
		p.SSMSigma = s.SSMSigma
	}
	if s.SSMMean != nil {
		p.SSMMean = s.SSMMean
	}
	if s.PixSigma != nil {
		p.PixSigma = s.PixSigma
	}
	setInt(&p.MaxIters, s.MaxIters)
	setFloat64(&p.Epsilon, s.Epsilon)
	setBool(&p.AdditiveUpdate, s.AdditiveUpdate)
	setBool(&p.LoadIndex, s.LoadIndex)
	setBool(&p.SaveIndex, s.SaveIndex)
	setString(&p.SavedDBPath, s.SavedDBPath)
	setString(&p.SavedIdxPath, s.SavedIdxPath)
	setUint64(&p.Seed, s.Seed)
	setInt(&p.Workers, s.Workers)
	if s.Index != nil {
		setInt(&p.Index.M, s.Index.M)
		setInt(&p.Index.EF, s.Index.EF)
		setInt(&p.Index.EFSearch, s.Index.EFSearch)
		setBool(&p.Index.Heuristic, s.Index.Heuristic)
		setUint64(&p.Index.Seed, s.Index.Seed)
	}
	return p, p.Validate()
}

// ParticleConfig configures ParticleSearch
type ParticleConfig struct {
	MaxIters                 *int        `json:"max_iters,omitempty"`
	NParticles               *int        `json:"n_particles,omitempty"`
	Epsilon                  *float64    `json:"epsilon,omitempty"`
	DynamicModel             *string     `json:"dynamic_model,omitempty"`
	UpdateType               *string     `json:"update_type,omitempty"`
	LikelihoodFunc           *string     `json:"likelihood_func,omitempty"`
	ResamplingType           *string     `json:"resampling_type,omitempty"`
	MeanType                 *string     `json:"mean_type,omitempty"`
	ResetToMean              *bool       `json:"reset_to_mean,omitempty"`
	SSMSigma                 [][]float64 `json:"ssm_sigma,omitempty"`
	SSMMean                  [][]float64 `json:"ssm_mean,omitempty"`
	PixSigma                 []float64   `json:"pix_sigma,omitempty"`
	MeasurementSigma         *float64    `json:"measurement_sigma,omitempty"`
	UpdateDistrWts           *bool       `json:"update_distr_wts,omitempty"`
	MinDistrWt               *float64    `json:"min_distr_wt,omitempty"`
	AdaptiveResamplingThresh *float64    `json:"adaptive_resampling_thresh,omitempty"`
	Seed                     *uint64     `json:"seed,omitempty"`
	Workers                  *int        `json:"workers,omitempty"`
}

// Params returns particle search parameters. Checks depending on the state size run in the constructor.
func (s *ParticleConfig) Params() (sm.ParticleParams, error) {
	p := sm.DefaultParticleParams()
	if s == nil {
		return p, nil
	}
	setInt(&p.MaxIters, s.MaxIters)
	setInt(&p.NParticles, s.NParticles)
	setFloat64(&p.Epsilon, s.Epsilon)
	setBool(&p.ResetToMean, s.ResetToMean)
	if s.SSMSigma != nil {
		p.SSMSigma = s.SSMSigma
	}
	if s.SSMMean != nil {
		p.SSMMean = s.SSMMean
	}
	if s.PixSigma != nil {
		p.PixSigma = s.PixSigma
	}
	setFloat64(&p.MeasurementSigma, s.MeasurementSigma)
	setBool(&p.UpdateDistrWts, s.UpdateDistrWts)
	setFloat64(&p.MinDistrWt, s.MinDistrWt)
	setFloat64(&p.AdaptiveResamplingThresh, s.AdaptiveResamplingThresh)
	setUint64(&p.Seed, s.Seed)
	setInt(&p.Workers, s.Workers)

	if s.DynamicModel != nil {
		v, err := sm.ParseDynamicModel(*s.DynamicModel)
		if err != nil {
			return p, err
		}
		p.DynamicModel = v
	}
	if s.UpdateType != nil {
		v, err := sm.ParseUpdateType(*s.UpdateType)
		if err != nil {
			return p, err
		}
		p.UpdateType = v
	}
	if s.LikelihoodFunc != nil {
		v, err := sm.ParseLikelihoodFunc(*s.LikelihoodFunc)
		if err != nil {
			return p, err
		}
		p.LikelihoodFunc = v
	}
	if s.ResamplingType != nil {
		v, err := sm.ParseResamplingType(*s.ResamplingType)
		if err != nil {
			return p, err
		}
		p.ResamplingType = v
	}
	if s.MeanType != nil {
		v, err := sm.ParseMeanType(*s.MeanType)
		if err != nil {
			return p, err
		}
		p.MeanType = v
	}
	return p, p.Validate()
}

// DriverConfig configures target lifetime and reacquisition
type DriverConfig struct {
	MaxFailures *int     `json:"max_failures,omitempty"`
	MinIoU      *float64 `json:"min_iou,omitempty"`
	Workers     *int     `json:"workers,omitempty"`
	Dt          *float64 `json:"dt,omitempty"`
	MaxTrackLen *int     `json:"max_track_len,omitempty"`
}

// Params returns validated multi tracker parameters
func (s *DriverConfig) Params() (tracker.MultiTrackerParams, error) {
	p := tracker.DefaultMultiTrackerParams()
	if s != nil {
		setInt(&p.MaxFailures, s.MaxFailures)
		setFloat64(&p.MinIoU, s.MinIoU)
		setInt(&p.Workers, s.Workers)
		setFloat64(&p.Target.Dt, s.Dt)
		setInt(&p.Target.MaxTrackLen, s.MaxTrackLen)
	}
	return p, p.Validate()
}

func setFloat64(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setUint64(dst *uint64, v *uint64) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
