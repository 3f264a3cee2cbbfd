// Package pyramid implements the Gaussian scale-space pyramid and its
// difference-of-Gaussians counterpart. A pyramid is a 2D grid of volumes
// indexed by octave and level: moving one octave up halves the linear
// dimensions, and levels within an octave step the Gaussian blur
// geometrically.
package pyramid

import (
	"fmt"
	"math"

	"volsift/pkg/volume"
)

// Pyramid is a grid of volumes indexed by (octave, level). The Gaussian and
// DoG pyramids share this shape; the DoG pyramid has one fewer level.
type Pyramid struct {
	// FirstOctave is the octave index of the first shelf. Octave 0 has
	// the base image dimensions.
	FirstOctave int

	// NumOctaves is the number of octaves, or -1 to derive it from the
	// image dimensions at resize time.
	NumOctaves int

	// FirstLevel is the level index of the first image in each octave.
	// The detector uses -1 so that keypoint levels start at 0.
	FirstLevel int

	// NumLevels is the number of levels per octave.
	NumLevels int

	// NumKpLevels is the number of levels per octave in which keypoints
	// are detected. Scales double every NumKpLevels levels.
	NumKpLevels int

	// SigmaN is the nominal blur already present in the input data.
	SigmaN float64

	// Sigma0 is the blur of level 0 of octave 0.
	Sigma0 float64

	// Levels holds the volumes, outer index octave, inner index level,
	// both offset by the first octave/level.
	Levels [][]*volume.Volume
}

// LastOctave returns the index of the last octave.
func (p *Pyramid) LastOctave() int { return p.FirstOctave + p.NumOctaves - 1 }

// LastLevel returns the index of the last level within each octave.
func (p *Pyramid) LastLevel() int { return p.FirstLevel + p.NumLevels - 1 }

// Get returns the volume at octave o, level l.
func (p *Pyramid) Get(o, l int) *volume.Volume {
	return p.Levels[o-p.FirstOctave][l-p.FirstLevel]
}

// ScaleOf returns the design blur parameter of level l of octave o, in base
// image units: sigma0 * 2^(o + l/num_kp_levels).
func (p *Pyramid) ScaleOf(o, l int) float64 {
	return p.Sigma0 * math.Pow(2,
		float64(o)+float64(l)/float64(p.NumKpLevels))
}

// relScaleOf is the blur of level l in the voxel units of its own octave.
// It does not depend on the octave: downsampling halves the grid along with
// the blur.
func (p *Pyramid) relScaleOf(l int) float64 {
	return p.Sigma0 * math.Pow(2, float64(l)/float64(p.NumKpLevels))
}

// AutoLastOctave derives the last octave index from the image dimensions so
// that the smallest processed dimension stays at least 8 voxels.
func AutoLastOctave(nx, ny, nz, firstOctave int) int {
	min := nx
	if ny < min {
		min = ny
	}
	if nz < min {
		min = nz
	}
	return int(math.Log2(float64(min))) - 3 - firstOctave
}

// octaveDims shifts the base dimensions by an octave index: positive
// octaves halve, negative octaves double.
func octaveDims(n, o int) int {
	if o >= 0 {
		return n >> uint(o)
	}
	return n << uint(-o)
}

// Resize reallocates every level of the pyramid for a base image of the
// given dimensions and stamps each level with its design scale. NumOctaves
// must be resolved (not -1) before calling.
func (p *Pyramid) Resize(nx, ny, nz, nc int) error {
	if p.NumOctaves < 1 {
		return fmt.Errorf("pyramid: invalid octave count %d", p.NumOctaves)
	}
	if p.NumLevels < 1 {
		return fmt.Errorf("pyramid: invalid level count %d", p.NumLevels)
	}

	p.Levels = make([][]*volume.Volume, p.NumOctaves)
	for oi := range p.Levels {
		o := p.FirstOctave + oi
		onx := octaveDims(nx, o)
		ony := octaveDims(ny, o)
		onz := octaveDims(nz, o)
		if onx < 1 || ony < 1 || onz < 1 {
			return fmt.Errorf("pyramid: octave %d is empty for %dx%dx%d input",
				o, nx, ny, nz)
		}

		p.Levels[oi] = make([]*volume.Volume, p.NumLevels)
		for li := range p.Levels[oi] {
			v := volume.New(onx, ony, onz, nc)
			v.Scale = p.ScaleOf(o, p.FirstLevel+li)
			p.Levels[oi][li] = v
		}
	}
	return nil
}

// Copy deep-copies the pyramid contents and parameters into dst. dst uses
// its own storage afterwards.
func (p *Pyramid) Copy(dst *Pyramid) {
	dst.FirstOctave = p.FirstOctave
	dst.NumOctaves = p.NumOctaves
	dst.FirstLevel = p.FirstLevel
	dst.NumLevels = p.NumLevels
	dst.NumKpLevels = p.NumKpLevels
	dst.SigmaN = p.SigmaN
	dst.Sigma0 = p.Sigma0

	dst.Levels = make([][]*volume.Volume, len(p.Levels))
	for oi := range p.Levels {
		dst.Levels[oi] = make([]*volume.Volume, len(p.Levels[oi]))
		for li := range p.Levels[oi] {
			dst.Levels[oi][li] = p.Levels[oi][li].Clone()
		}
	}
}
