// Package sift implements a scale-invariant feature transform for 3D
// volumetric images: keypoint detection over a difference-of-Gaussians
// scale-space pyramid, eigenvector-based orientation assignment, and
// rotation-invariant gradient-histogram descriptors with brute-force
// nearest-neighbor matching.
//
// The Detector owns the pyramids, filter bank and icosahedral mesh.
// Keypoint and descriptor stores are caller-owned; the Detector only
// writes into them. A single Detector must be driven from one goroutine at
// a time, but independent Detectors are fully isolated and may run
// concurrently.
package sift

import (
	"fmt"
	"math"

	"volsift/pkg/mesh"
	"volsift/pkg/pyramid"
	"volsift/pkg/volume"
)

// Default detector parameters.
const (
	DefaultFirstOctave  = 0    // starting octave index
	DefaultPeakThresh   = 0.03 // DoG peak threshold
	DefaultNumKpLevels  = 3    // keypoint levels per octave
	DefaultCornerThresh = 0.5  // minimum corner score
	DefaultSigmaN       = 1.15 // nominal scale of the input data
	DefaultSigma0       = 1.6  // scale of the base octave
)

// Descriptor geometry.
const (
	// NHistPerDim is the number of histogram cells along each spatial
	// axis of a descriptor.
	NHistPerDim = 4

	// DescNumTotalHist is the number of histograms in one descriptor.
	DescNumTotalHist = NHistPerDim * NHistPerDim * NHistPerDim

	// IcosaBins is the bin count of an icosahedral histogram, one bin
	// per mesh vertex.
	IcosaBins = mesh.NumVert

	// NBinsAz and NBinsPo are the azimuth and polar bin counts of the
	// spherical histogram variant.
	NBinsAz = 8
	NBinsPo = 4
)

// Internal tuning constants.
const (
	maxEigRatio   = 0.90  // maximum ratio of adjacent eigenvalue magnitudes
	oriGradThresh = 1e-10 // minimum squared norm of the window gradient
	oriSigFctr    = 1.5   // orientation window parameter per unit scale
	oriRadFctr    = 3.0   // orientation window radius per window parameter
	descSigFctr   = 7.071067812 // descriptor window parameter, 5*sqrt(2)
	descRadFctr   = 2.0   // descriptor window radius per window parameter
)

// HistMode selects the orientation histogram geometry.
type HistMode int

const (
	// HistIcosa bins gradient directions over the vertices of a regular
	// icosahedron via barycentric interpolation. This is the default.
	HistIcosa HistMode = iota

	// HistSpherical bins gradient directions over an azimuth/polar grid.
	HistSpherical
)

// RefineMode selects the sub-voxel refinement strategy.
type RefineMode int

const (
	// RefineParabola refines each coordinate independently with a
	// parabolic interpolation step. This is the default.
	RefineParabola RefineMode = iota

	// RefineNewton solves the full 4x4 scale-space Newton system.
	RefineNewton
)

// Keypoint is a detected scale-space extremum. The integer indices locate
// the detection voxel; the real-valued coordinates are the refined position
// in the detection octave's grid. R is the local orientation frame, a
// right-handed rotation matrix in row-major order.
type Keypoint struct {
	O, S       int
	Xi, Yi, Zi int

	Xd, Yd, Zd float64
	Sd         float64

	// SdRel is the refined scale relative to the detection octave,
	// sd * 2^(-o).
	SdRel float64

	R [9]float64
}

// KeypointStore holds detected keypoints along with the dimensions of the
// volume they were detected in. The caller owns the store.
type KeypointStore struct {
	Keys       []Keypoint
	Nx, Ny, Nz int
}

// Clear removes all keypoints, keeping the backing storage.
func (kp *KeypointStore) Clear() { kp.Keys = kp.Keys[:0] }

// Hist is one gradient histogram: 12 bins in icosahedral mode, 8x4 bins in
// spherical mode (azimuth fastest).
type Hist []float64

// Descriptor is a rotation-aligned grid of gradient histograms located at
// (Xd, Yd, Zd, Sd) in base-image coordinates.
type Descriptor struct {
	Xd, Yd, Zd, Sd float64
	Hists          []Hist
}

// DescriptorStore holds extracted descriptors, the histogram length they
// were built with, and the dimensions of the source volume. The caller owns
// the store.
type DescriptorStore struct {
	Descs      []Descriptor
	HistLen    int
	Nx, Ny, Nz int
}

// Clear removes all descriptors, keeping the backing storage.
func (ds *DescriptorStore) Clear() { ds.Descs = ds.Descs[:0] }

// Detector holds the feature pipeline configuration and its internal
// scale-space state.
type Detector struct {
	peakThresh   float64
	cornerThresh float64

	gpyr pyramid.Pyramid
	dog  pyramid.Pyramid
	gss  *pyramid.GSS

	mesh *mesh.Mesh

	// im is a back-reference to the current caller-owned input.
	im *volume.Volume

	// autoOctaves records that the octave count should be derived from
	// the image dimensions on each reshape.
	autoOctaves bool

	// Variant switches; the zero values are the reference defaults.
	histMode      HistMode
	refineMode    RefineMode
	cuboidExtrema bool
	denseRotate   bool

	// solidAngleWeight reweights spherical histogram bins by their solid
	// angle. It has no effect in icosahedral mode.
	solidAngleWeight bool
}

// NewDetector creates a detector with the default parameters and a freshly
// validated icosahedral mesh.
func NewDetector() (*Detector, error) {
	m, err := mesh.New()
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}

	d := &Detector{mesh: m}
	d.gpyr.FirstLevel = -1
	d.dog.FirstLevel = -1
	d.autoOctaves = true
	d.gpyr.NumOctaves = -1
	d.dog.NumOctaves = -1

	if err := d.SetSigmaN(DefaultSigmaN); err != nil {
		return nil, err
	}
	if err := d.SetSigma0(DefaultSigma0); err != nil {
		return nil, err
	}
	if err := d.SetFirstOctave(DefaultFirstOctave); err != nil {
		return nil, err
	}
	if err := d.SetPeakThresh(DefaultPeakThresh); err != nil {
		return nil, err
	}
	if err := d.SetCornerThresh(DefaultCornerThresh); err != nil {
		return nil, err
	}
	if err := d.SetNumKpLevels(DefaultNumKpLevels); err != nil {
		return nil, err
	}
	return d, nil
}

// SetFirstOctave sets the starting octave index and reshapes the internal
// pyramids.
func (d *Detector) SetFirstOctave(firstOctave int) error {
	d.gpyr.FirstOctave = firstOctave
	d.dog.FirstOctave = firstOctave
	return d.resize()
}

// SetPeakThresh sets the DoG peak threshold, which must lie in (0, inf).
func (d *Detector) SetPeakThresh(peakThresh float64) error {
	if peakThresh <= 0 {
		return fmt.Errorf("peak_thresh must be greater than 0, provided: %g",
			peakThresh)
	}
	d.peakThresh = peakThresh
	return nil
}

// SetCornerThresh sets the minimum corner score, which must lie in [0, 1].
func (d *Detector) SetCornerThresh(cornerThresh float64) error {
	if cornerThresh < 0 || cornerThresh > 1 {
		return fmt.Errorf("corner_thresh must be in the interval [0, 1], provided: %g",
			cornerThresh)
	}
	d.cornerThresh = cornerThresh
	return nil
}

// SetNumOctaves sets the number of octaves to process, or -1 to derive it
// from the image dimensions. Reshapes the internal pyramids.
func (d *Detector) SetNumOctaves(numOctaves int) error {
	if numOctaves != -1 && numOctaves < 1 {
		return fmt.Errorf("num_octaves must be positive or -1, provided: %d",
			numOctaves)
	}
	d.autoOctaves = numOctaves == -1
	d.gpyr.NumOctaves = numOctaves
	d.dog.NumOctaves = numOctaves
	return d.resize()
}

// SetNumKpLevels sets the number of keypoint levels per octave and reshapes
// the internal pyramids. The Gaussian pyramid gets three extra levels and
// the DoG pyramid two, so that every keypoint level has both scale
// neighbors.
func (d *Detector) SetNumKpLevels(numKpLevels int) error {
	if numKpLevels < 1 {
		return fmt.Errorf("num_kp_levels must be positive, provided: %d",
			numKpLevels)
	}

	d.gpyr.NumKpLevels = numKpLevels
	d.dog.NumKpLevels = numKpLevels
	d.dog.NumLevels = numKpLevels + 2
	d.gpyr.NumLevels = numKpLevels + 3
	return d.resize()
}

// SetSigmaN sets the nominal blur of the input data, which must be
// nonnegative. Recomputes the filter bank when an image is set.
func (d *Detector) SetSigmaN(sigmaN float64) error {
	if sigmaN < 0 {
		return fmt.Errorf("sigma_n must be nonnegative, provided: %g", sigmaN)
	}
	d.gpyr.SigmaN = sigmaN
	d.dog.SigmaN = sigmaN
	return d.remakeFilters()
}

// SetSigma0 sets the blur of pyramid level 0 of octave 0, which
// must be nonnegative. Recomputes the filter bank when an image is set.
func (d *Detector) SetSigma0(sigma0 float64) error {
	if sigma0 < 0 {
		return fmt.Errorf("sigma0 must be nonnegative, provided: %g", sigma0)
	}
	d.gpyr.Sigma0 = sigma0
	d.dog.Sigma0 = sigma0
	return d.remakeFilters()
}

// SetHistMode selects the histogram geometry for subsequently extracted
// descriptors.
func (d *Detector) SetHistMode(mode HistMode) { d.histMode = mode }

// SetRefineMode selects the sub-voxel refinement strategy.
func (d *Detector) SetRefineMode(mode RefineMode) { d.refineMode = mode }

// SetCuboidExtrema extends the same-level extremum comparison from the six
// face neighbors to the full 26-voxel neighborhood.
func (d *Detector) SetCuboidExtrema(on bool) { d.cuboidExtrema = on }

// SetDenseRotate enables per-voxel orientation assignment in dense
// descriptor mode.
func (d *Detector) SetDenseRotate(on bool) { d.denseRotate = on }

// SetSolidAngleWeight enables solid-angle bin weighting for spherical
// histograms.
func (d *Detector) SetSolidAngleWeight(on bool) { d.solidAngleWeight = on }

// PeakThresh returns the current DoG peak threshold.
func (d *Detector) PeakThresh() float64 { return d.peakThresh }

// CornerThresh returns the current minimum corner score.
func (d *Detector) CornerThresh() float64 { return d.cornerThresh }

// NumKpLevels returns the number of keypoint levels per octave.
func (d *Detector) NumKpLevels() int { return d.gpyr.NumKpLevels }

// NumOctaves returns the resolved octave count, or -1 if no image has been
// set and the count is automatic.
func (d *Detector) NumOctaves() int { return d.gpyr.NumOctaves }

// FirstOctave returns the starting octave index.
func (d *Detector) FirstOctave() int { return d.gpyr.FirstOctave }

// remakeFilters rebuilds the Gaussian filter bank without touching the
// pyramid storage. A no-op before the first image is set.
func (d *Detector) remakeFilters() error {
	if d.im == nil {
		return nil
	}
	gss, err := pyramid.MakeGSS(&d.gpyr)
	if err != nil {
		return err
	}
	d.gss = gss
	return nil
}

// resize reallocates the pyramid storage and recomputes the Gaussian
// filters for the current image dimensions. Safe to call with no image
// set, in which case it does nothing.
func (d *Detector) resize() error {
	im := d.im
	if im == nil {
		return nil
	}

	firstOctave := d.gpyr.FirstOctave
	numOctaves := d.gpyr.NumOctaves
	if d.autoOctaves {
		lastOctave := pyramid.AutoLastOctave(im.Nx, im.Ny, im.Nz, firstOctave)
		numOctaves = lastOctave - firstOctave + 1
		if numOctaves < 1 {
			return fmt.Errorf("image %dx%dx%d too small for first octave %d",
				im.Nx, im.Ny, im.Nz, firstOctave)
		}
	}
	d.gpyr.NumOctaves = numOctaves
	d.dog.NumOctaves = numOctaves

	if err := d.gpyr.Resize(im.Nx, im.Ny, im.Nz, 1); err != nil {
		return err
	}
	if err := d.dog.Resize(im.Nx, im.Ny, im.Nz, 1); err != nil {
		return err
	}

	return d.remakeFilters()
}

// setImage installs a new caller-owned input volume, reshaping the internal
// state when the dimensions changed.
func (d *Detector) setImage(im *volume.Volume) error {
	old := d.im
	d.im = im
	if old == nil || old.Nx != im.Nx || old.Ny != im.Ny || old.Nz != im.Nz {
		return d.resize()
	}
	return nil
}

// Copy deep-copies the detector into dst: parameters, variant switches and
// pyramid contents. The copy uses its own storage and is independent of the
// source afterwards. The immutable mesh is shared.
func (d *Detector) Copy(dst *Detector) error {
	dst.mesh = d.mesh
	dst.gpyr.FirstLevel = d.gpyr.FirstLevel
	dst.dog.FirstLevel = d.dog.FirstLevel

	if err := dst.SetSigmaN(d.gpyr.SigmaN); err != nil {
		return err
	}
	if err := dst.SetSigma0(d.gpyr.Sigma0); err != nil {
		return err
	}
	if err := dst.SetPeakThresh(d.peakThresh); err != nil {
		return err
	}
	if err := dst.SetCornerThresh(d.cornerThresh); err != nil {
		return err
	}
	dst.gpyr.FirstOctave = d.gpyr.FirstOctave
	dst.dog.FirstOctave = d.dog.FirstOctave
	dst.autoOctaves = d.autoOctaves
	dst.gpyr.NumOctaves = d.gpyr.NumOctaves
	dst.dog.NumOctaves = d.dog.NumOctaves
	dst.gpyr.NumKpLevels = d.gpyr.NumKpLevels
	dst.dog.NumKpLevels = d.dog.NumKpLevels
	dst.gpyr.NumLevels = d.gpyr.NumLevels
	dst.dog.NumLevels = d.dog.NumLevels

	dst.histMode = d.histMode
	dst.refineMode = d.refineMode
	dst.cuboidExtrema = d.cuboidExtrema
	dst.denseRotate = d.denseRotate
	dst.solidAngleWeight = d.solidAngleWeight

	dst.im = d.im
	if err := dst.resize(); err != nil {
		return err
	}

	if d.im != nil {
		d.gpyr.Copy(&dst.gpyr)
		d.dog.Copy(&dst.dog)
	}
	return nil
}

// DetectKeypoints runs the full detection pipeline on a single-channel
// volume: Gaussian pyramid, DoG pyramid, extremum detection, sub-voxel
// refinement and orientation assignment. Results are appended to a cleared
// kp store in raster-scan order, with orientationally unstable points
// removed.
func (d *Detector) DetectKeypoints(im *volume.Volume, kp *KeypointStore) error {
	if im.Nc != 1 {
		return fmt.Errorf("detect: invalid number of image channels: %d, only single-channel volumes are supported",
			im.Nc)
	}

	if err := d.setImage(im); err != nil {
		return err
	}

	if err := d.buildPyramids(im); err != nil {
		return err
	}

	kp.Clear()
	if err := d.detectExtrema(kp); err != nil {
		return err
	}
	if err := d.refineKeypoints(kp); err != nil {
		return err
	}
	return d.assignOrientations(kp)
}

// buildPyramids fills the Gaussian and DoG pyramids from the input volume.
// For a positive first octave, the input is decimated down to the first
// octave's grid before blurring. Negative first octaves would require an
// upsampling resampler and are rejected.
func (d *Detector) buildPyramids(im *volume.Volume) error {
	base := im
	if d.gpyr.FirstOctave < 0 {
		return fmt.Errorf("detect: negative first octave %d requires upsampling, which is not supported",
			d.gpyr.FirstOctave)
	}
	for o := 0; o < d.gpyr.FirstOctave; o++ {
		down := &volume.Volume{}
		if err := volume.Downsample2x(base, down); err != nil {
			return fmt.Errorf("detect: decimating to first octave: %w", err)
		}
		base = down
	}

	if err := pyramid.BuildGaussian(&d.gpyr, d.gss, base); err != nil {
		return err
	}
	return pyramid.BuildDoG(&d.dog, &d.gpyr)
}

// histLen returns the bin count of one histogram in the current mode.
func (d *Detector) histLen() int {
	if d.histMode == HistSpherical {
		return NBinsAz * NBinsPo
	}
	return IcosaBins
}

// truncThresh is the per-bin clamp applied between the two descriptor
// normalization passes, scaled so its strength is independent of the total
// element count.
func (d *Detector) truncThresh() float64 {
	return 0.2 * 128.0 / float64(DescNumTotalHist*d.histLen())
}

// coordFactor converts octave-o coordinates to base-image coordinates.
func coordFactor(o int) float64 {
	return math.Pow(2, float64(o))
}

// gaussWeight is the unnormalized Gaussian window weight at squared
// distance sqDist.
func gaussWeight(sqDist, sigma float64) float64 {
	return math.Exp(-0.5 * sqDist / (sigma * sigma))
}
