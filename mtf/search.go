package mtf

// SearchMethod updates the state of its state-space model every frame
type SearchMethod interface {
	Name() string
	// Initialize captures the template inside corners of img
	Initialize(img Image, corners Corners) error
	// Update estimates the warp for the next frame. On error the previous corners are kept.
	Update(img Image) error
	Corners() Corners
	// SetRegion moves the tracker onto corners without recapturing the template
	SetRegion(corners Corners) error
	AM() AppearanceModel
	SSM() StateSpaceModel
}
