package config

import (
	"github.com/LdDl/mtf-go/mtf"
	"github.com/LdDl/mtf-go/mtf/am"
	"github.com/LdDl/mtf-go/mtf/sm"
	"github.com/LdDl/mtf-go/mtf/ssm"
	"github.com/LdDl/mtf-go/mtf/tracker"
)

// NewSearchMethod assembles the appearance model, the state space model and the configured search method.
// Every call returns independent models, so the result can drive exactly one target.
func (c *TrackerConfig) NewSearchMethod(optFns ...sm.Option) (mtf.SearchMethod, error) {
	isoParams, err := c.Isometry.Params()
	if err != nil {
		return nil, err
	}
	iso, err := ssm.NewIsometry(isoParams)
	if err != nil {
		return nil, err
	}
	ssimParams, err := c.SSIM.Params()
	if err != nil {
		return nil, err
	}
	ssim, err := am.NewSSIM(ssimParams, iso.NPts())
	if err != nil {
		return nil, err
	}

	switch c.GetSearchMethod() {
	case SearchGradient:
		params, err := c.Gradient.Params()
		if err != nil {
			return nil, err
		}
		return sm.NewGradientSearch(ssim, iso, params, optFns...)
	case SearchNeighbor:
		params, err := c.Neighbor.Params()
		if err != nil {
			return nil, err
		}
		return sm.NewNeighborSearch(ssim, iso, params, optFns...)
	case SearchParticle:
		params, err := c.Particle.Params()
		if err != nil {
			return nil, err
		}
		return sm.NewParticleSearch(ssim, iso, params, optFns...)
	default:
		return nil, mtf.NewConfigurationError(component, "unknown search method '%s'", c.GetSearchMethod())
	}
}

// NewMultiTracker creates the driver configured by the tracker section
func (c *TrackerConfig) NewMultiTracker(logger *mtf.Logger) (*tracker.MultiTracker, error) {
	params, err := c.Tracker.Params()
	if err != nil {
		return nil, err
	}
	return tracker.NewMultiTracker(params, logger)
}
