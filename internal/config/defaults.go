package config

import (
	"github.com/LdDl/mtf-go/mtf/am"
	"github.com/LdDl/mtf-go/mtf/sm"
	"github.com/LdDl/mtf-go/mtf/ssm"
	"github.com/LdDl/mtf-go/mtf/tracker"
)

// DefaultTrackerConfig returns a config with every field set to the component default.
// It mirrors the file at DefaultConfigPath.
func DefaultTrackerConfig() *TrackerConfig {
	ssimParams := am.DefaultSSIMParams()
	isoParams := ssm.DefaultIsometryParams()
	gradParams := sm.DefaultGradientParams()
	nnParams := sm.DefaultNeighborParams()
	pfParams := sm.DefaultParticleParams()
	mtParams := tracker.DefaultMultiTrackerParams()

	return &TrackerConfig{
		SearchMethod: ptrString(SearchGradient),
		LogLevel:     ptrString("INFO"),
		LogFormat:    ptrString("text"),
		SSIM: &SSIMConfig{
			K1:              ptrFloat64(ssimParams.K1),
			K2:              ptrFloat64(ssimParams.K2),
			DynamicRange:    ptrFloat64(ssimParams.DynamicRange),
			LikelihoodAlpha: ptrFloat64(ssimParams.LikelihoodAlpha),
		},
		Isometry: &IsometryConfig{
			Resx:            ptrInt(isoParams.Resx),
			Resy:            ptrInt(isoParams.Resy),
			PtBasedSampling: ptrBool(isoParams.PtBasedSampling),
		},
		Gradient: &GradientConfig{
			MaxIters:   ptrInt(gradParams.MaxIters),
			Epsilon:    ptrFloat64(gradParams.Epsilon),
			HessType:   ptrString(gradParams.HessType.String()),
			UpdateType: ptrString(gradParams.UpdateType.String()),
			MaxCond:    ptrFloat64(gradParams.MaxCond),
		},
		Neighbor: &NeighborConfig{
			NSamples:       ptrInt(nnParams.NSamples),
			SSMSigma:       nnParams.SSMSigma,
			MaxIters:       ptrInt(nnParams.MaxIters),
			Epsilon:        ptrFloat64(nnParams.Epsilon),
			AdditiveUpdate: ptrBool(nnParams.AdditiveUpdate),
			LoadIndex:      ptrBool(nnParams.LoadIndex),
			SaveIndex:      ptrBool(nnParams.SaveIndex),
			SavedDBPath:    ptrString(nnParams.SavedDBPath),
			SavedIdxPath:   ptrString(nnParams.SavedIdxPath),
			Index: &IndexConfig{
				M:         ptrInt(nnParams.Index.M),
				EF:        ptrInt(nnParams.Index.EF),
				EFSearch:  ptrInt(nnParams.Index.EFSearch),
				Heuristic: ptrBool(nnParams.Index.Heuristic),
				Seed:      ptrUint64(nnParams.Index.Seed),
			},
			Seed:    ptrUint64(nnParams.Seed),
			Workers: ptrInt(nnParams.Workers),
		},
		Particle: &ParticleConfig{
			MaxIters:                 ptrInt(pfParams.MaxIters),
			NParticles:               ptrInt(pfParams.NParticles),
			Epsilon:                  ptrFloat64(pfParams.Epsilon),
			DynamicModel:             ptrString(pfParams.DynamicModel.String()),
			UpdateType:               ptrString(pfParams.UpdateType.String()),
			LikelihoodFunc:           ptrString(pfParams.LikelihoodFunc.String()),
			ResamplingType:           ptrString(pfParams.ResamplingType.String()),
			MeanType:                 ptrString(pfParams.MeanType.String()),
			ResetToMean:              ptrBool(pfParams.ResetToMean),
			SSMSigma:                 pfParams.SSMSigma,
			MeasurementSigma:         ptrFloat64(pfParams.MeasurementSigma),
			UpdateDistrWts:           ptrBool(pfParams.UpdateDistrWts),
			MinDistrWt:               ptrFloat64(pfParams.MinDistrWt),
			AdaptiveResamplingThresh: ptrFloat64(pfParams.AdaptiveResamplingThresh),
			Seed:                     ptrUint64(pfParams.Seed),
			Workers:                  ptrInt(pfParams.Workers),
		},
		Tracker: &DriverConfig{
			MaxFailures: ptrInt(mtParams.MaxFailures),
			MinIoU:      ptrFloat64(mtParams.MinIoU),
			Workers:     ptrInt(mtParams.Workers),
			Dt:          ptrFloat64(mtParams.Target.Dt),
			MaxTrackLen: ptrInt(mtParams.Target.MaxTrackLen),
		},
	}
}
