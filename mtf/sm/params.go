package sm

import (
	"strings"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/LdDl/mtf-go/mtf/gnn"
)

// HessType selects Hessian used by GradientSearch
type HessType uint16

const (
	// HessInitialSelf uses the template self Hessian computed once at initialization
	HessInitialSelf HessType = iota
	// HessCurrentSelf uses the self Hessian with the current pixel Jacobian
	HessCurrentSelf
	// HessStd is the first order (Gauss-Newton) Hessian of the current patch
	HessStd
	// HessSecondOrder adds gradient weighted pixel Hessians of the warp
	HessSecondOrder
)

// UpdateType selects how an estimated increment is applied to the state
type UpdateType uint16

const (
	// UpdateAdditive is p <- p + delta
	UpdateAdditive UpdateType = iota
	// UpdateCompositional is W(p) <- W(p) * W(delta)
	UpdateCompositional
)

// DynamicModel is the particle propagation model
type DynamicModel uint16

const (
	// DynamicRandomWalk perturbs particles around their current value
	DynamicRandomWalk DynamicModel = iota
	// DynamicAutoRegression1 extrapolates the previous displacement before perturbing
	DynamicAutoRegression1
)

// LikelihoodFunc is the particle measurement model
type LikelihoodFunc uint16

const (
	// LikelihoodAM uses appearance model likelihood
	LikelihoodAM LikelihoodFunc = iota
	// LikelihoodGaussian is exp(-e^2 / (2 sigma^2)) of the normalized patch error e
	LikelihoodGaussian
	// LikelihoodReciprocal is 1 / (1 + e / sigma) of the normalized patch error e
	LikelihoodReciprocal
)

// ResamplingType is the particle resampling strategy
type ResamplingType uint16

const (
	// ResamplingNone never replaces particles
	ResamplingNone ResamplingType = iota
	// ResamplingBinaryMultinomial draws by binary search over the cumulative weights
	ResamplingBinaryMultinomial
	// ResamplingLinearMultinomial draws by one linear pass over sorted uniforms
	ResamplingLinearMultinomial
	// ResamplingResidual copies floor(n*w) particles and draws the rest multinomially
	ResamplingResidual
)

// MeanType is the point estimate of the particle set
type MeanType uint16

const (
	// MeanNone takes the particle with the highest weight
	MeanNone MeanType = iota
	// MeanSSM takes weighted mean in state space
	MeanSSM
	// MeanCorners takes weighted mean of particle corners
	MeanCorners
)

var (
	hessTypeNames       = []string{"InitialSelf", "CurrentSelf", "Std", "SecondOrder"}
	updateTypeNames     = []string{"Additive", "Compositional"}
	dynamicModelNames   = []string{"RandomWalk", "AutoRegression1"}
	likelihoodFuncNames = []string{"AM", "Gaussian", "Reciprocal"}
	resamplingTypeNames = []string{"None", "BinaryMultinomial", "LinearMultinomial", "Residual"}
	meanTypeNames       = []string{"None", "SSM", "Corners"}
)

func enumString(names []string, v uint16) string {
	if int(v) < len(names) {
		return names[v]
	}
	return "Unknown"
}

func parseEnum(component, kind string, names []string, s string) (uint16, error) {
	for i, name := range names {
		if strings.EqualFold(name, s) {
			return uint16(i), nil
		}
	}
	return 0, mtf.NewConfigurationError(component, "unknown %s '%s', expected one of %v", kind, s, names)
}

func (v HessType) String() string       { return enumString(hessTypeNames, uint16(v)) }
func (v UpdateType) String() string     { return enumString(updateTypeNames, uint16(v)) }
func (v DynamicModel) String() string   { return enumString(dynamicModelNames, uint16(v)) }
func (v LikelihoodFunc) String() string { return enumString(likelihoodFuncNames, uint16(v)) }
func (v ResamplingType) String() string { return enumString(resamplingTypeNames, uint16(v)) }
func (v MeanType) String() string       { return enumString(meanTypeNames, uint16(v)) }

// ParseHessType parses case insensitive name of HessType
func ParseHessType(s string) (HessType, error) {
	v, err := parseEnum(gradientName, "hessian type", hessTypeNames, s)
	return HessType(v), err
}

// ParseUpdateType parses case insensitive name of UpdateType
func ParseUpdateType(s string) (UpdateType, error) {
	v, err := parseEnum("search", "update type", updateTypeNames, s)
	return UpdateType(v), err
}

// ParseDynamicModel parses case insensitive name of DynamicModel. "AutoRegression(1)" is accepted too.
func ParseDynamicModel(s string) (DynamicModel, error) {
	v, err := parseEnum(particleName, "dynamic model", dynamicModelNames, strings.NewReplacer("(", "", ")", "").Replace(s))
	return DynamicModel(v), err
}

// ParseLikelihoodFunc parses case insensitive name of LikelihoodFunc
func ParseLikelihoodFunc(s string) (LikelihoodFunc, error) {
	v, err := parseEnum(particleName, "likelihood function", likelihoodFuncNames, s)
	return LikelihoodFunc(v), err
}

// ParseResamplingType parses case insensitive name of ResamplingType
func ParseResamplingType(s string) (ResamplingType, error) {
	v, err := parseEnum(particleName, "resampling type", resamplingTypeNames, s)
	return ResamplingType(v), err
}

// ParseMeanType parses case insensitive name of MeanType
func ParseMeanType(s string) (MeanType, error) {
	v, err := parseEnum(particleName, "mean type", meanTypeNames, s)
	return MeanType(v), err
}

// GradientParams configures GradientSearch
type GradientParams struct {
	MaxIters int
	// Epsilon is the threshold on the norm of the state increment
	Epsilon    float64
	HessType   HessType
	UpdateType UpdateType
	// MaxCond is the largest accepted condition number of the Hessian
	MaxCond float64
}

// DefaultGradientParams returns default GradientSearch parameters
func DefaultGradientParams() GradientParams {
	return GradientParams{
		MaxIters:   30,
		Epsilon:    0.01,
		HessType:   HessInitialSelf,
		UpdateType: UpdateAdditive,
		MaxCond:    1e12,
	}
}

// Validate checks parameters
func (p GradientParams) Validate() error {
	if p.MaxIters <= 0 {
		return mtf.NewConfigurationError(gradientName, "max iterations must be positive, got %d", p.MaxIters)
	}
	if p.Epsilon < 0 {
		return mtf.NewConfigurationError(gradientName, "epsilon must be non-negative, got %v", p.Epsilon)
	}
	if int(p.HessType) >= len(hessTypeNames) {
		return mtf.NewConfigurationError(gradientName, "unknown hessian type %d", p.HessType)
	}
	if int(p.UpdateType) >= len(updateTypeNames) {
		return mtf.NewConfigurationError(gradientName, "unknown update type %d", p.UpdateType)
	}
	if p.MaxCond <= 1 {
		return mtf.NewConfigurationError(gradientName, "max condition number must exceed 1, got %v", p.MaxCond)
	}
	return nil
}

// NeighborParams configures NeighborSearch
type NeighborParams struct {
	// NSamples is split between distributions like particles are, used when SamplerNSamples is empty
	NSamples int
	// SamplerNSamples sets the number of samples of every distribution explicitly
	SamplerNSamples []int
	SSMSigma        [][]float64
	SSMMean         [][]float64
	PixSigma        []float64
	MaxIters        int
	// Epsilon is the threshold on corner displacement between iterations
	Epsilon        float64
	AdditiveUpdate bool
	// LoadIndex reads dataset and index from the saved paths instead of generating them
	LoadIndex    bool
	SaveIndex    bool
	SavedDBPath  string
	SavedIdxPath string
	Index        gnn.Options
	Seed         uint64
	// Workers bounds parallel feature computation, 0 means GOMAXPROCS
	Workers int
}

// DefaultNeighborParams returns default NeighborSearch parameters
func DefaultNeighborParams() NeighborParams {
	return NeighborParams{
		NSamples:     1000,
		SSMSigma:     [][]float64{{2, 2, 0.02}},
		MaxIters:     1,
		Epsilon:      0.01,
		SavedDBPath:  "nn_dataset.db",
		SavedIdxPath: "nn_dataset.idx",
		Index:        gnn.DefaultOptions,
		Seed:         1,
	}
}

// Validate checks parameters which do not depend on the state space model
func (p NeighborParams) Validate() error {
	if len(p.SamplerNSamples) == 0 && p.NSamples <= 0 {
		return mtf.NewConfigurationError(neighborName, "number of samples must be positive, got %d", p.NSamples)
	}
	for i, n := range p.SamplerNSamples {
		if n <= 0 {
			return mtf.NewConfigurationError(neighborName, "sampler %d must draw a positive number of samples, got %d", i, n)
		}
	}
	if p.MaxIters <= 0 {
		return mtf.NewConfigurationError(neighborName, "max iterations must be positive, got %d", p.MaxIters)
	}
	if (p.LoadIndex || p.SaveIndex) && (p.SavedDBPath == "" || p.SavedIdxPath == "") {
		return mtf.NewConfigurationError(neighborName, "dataset and index paths are required to load or save the index")
	}
	if p.Index.M < 2 {
		return mtf.NewConfigurationError(neighborName, "index M must be at least 2, got %d", p.Index.M)
	}
	if p.Workers < 0 {
		return mtf.NewConfigurationError(neighborName, "workers must be non-negative, got %d", p.Workers)
	}
	return nil
}

// ParticleParams configures ParticleSearch
type ParticleParams struct {
	MaxIters   int
	NParticles int
	// Epsilon is the threshold on corner displacement between iterations
	Epsilon        float64
	DynamicModel   DynamicModel
	UpdateType     UpdateType
	LikelihoodFunc LikelihoodFunc
	ResamplingType ResamplingType
	MeanType       MeanType
	ResetToMean    bool
	SSMSigma       [][]float64
	SSMMean        [][]float64
	// PixSigma switches to corner based sampling when its first value is positive
	PixSigma         []float64
	MeasurementSigma float64
	UpdateDistrWts   bool
	MinDistrWt       float64
	// AdaptiveResamplingThresh is a fraction of NParticles, resampling happens when ESS falls below it.
	// Zero resamples unconditionally.
	AdaptiveResamplingThresh float64
	Seed                     uint64
	// Workers bounds parallel weighting, 0 means GOMAXPROCS
	Workers int
}

// DefaultParticleParams returns default ParticleSearch parameters
func DefaultParticleParams() ParticleParams {
	return ParticleParams{
		MaxIters:                 10,
		NParticles:               200,
		Epsilon:                  0.01,
		DynamicModel:             DynamicRandomWalk,
		UpdateType:               UpdateAdditive,
		LikelihoodFunc:           LikelihoodAM,
		ResamplingType:           ResamplingNone,
		MeanType:                 MeanSSM,
		ResetToMean:              false,
		SSMSigma:                 [][]float64{{1, 1, 0.01}},
		MeasurementSigma:         0.1,
		UpdateDistrWts:           false,
		MinDistrWt:               0.5,
		AdaptiveResamplingThresh: 0,
		Seed:                     1,
	}
}

// Validate checks parameters which do not depend on the state space model
func (p ParticleParams) Validate() error {
	if p.MaxIters <= 0 {
		return mtf.NewConfigurationError(particleName, "max iterations must be positive, got %d", p.MaxIters)
	}
	if p.NParticles <= 0 {
		return mtf.NewConfigurationError(particleName, "number of particles must be positive, got %d", p.NParticles)
	}
	if int(p.DynamicModel) >= len(dynamicModelNames) {
		return mtf.NewConfigurationError(particleName, "unknown dynamic model %d", p.DynamicModel)
	}
	if int(p.UpdateType) >= len(updateTypeNames) {
		return mtf.NewConfigurationError(particleName, "unknown update type %d", p.UpdateType)
	}
	if int(p.LikelihoodFunc) >= len(likelihoodFuncNames) {
		return mtf.NewConfigurationError(particleName, "unknown likelihood function %d", p.LikelihoodFunc)
	}
	if int(p.ResamplingType) >= len(resamplingTypeNames) {
		return mtf.NewConfigurationError(particleName, "unknown resampling type %d", p.ResamplingType)
	}
	if int(p.MeanType) >= len(meanTypeNames) {
		return mtf.NewConfigurationError(particleName, "unknown mean type %d", p.MeanType)
	}
	if p.LikelihoodFunc != LikelihoodAM && p.MeasurementSigma <= 0 {
		return mtf.NewConfigurationError(particleName, "measurement sigma must be positive, got %v", p.MeasurementSigma)
	}
	if p.MinDistrWt < 0 || p.MinDistrWt > 1 {
		return mtf.NewConfigurationError(particleName, "minimum distribution weight must be in [0, 1], got %v", p.MinDistrWt)
	}
	if p.AdaptiveResamplingThresh < 0 || p.AdaptiveResamplingThresh > 1 {
		return mtf.NewConfigurationError(particleName, "adaptive resampling threshold must be in [0, 1], got %v", p.AdaptiveResamplingThresh)
	}
	if p.Workers < 0 {
		return mtf.NewConfigurationError(particleName, "workers must be non-negative, got %d", p.Workers)
	}
	return nil
}
