package pyramid

import (
	"fmt"
	"math"

	"volsift/pkg/volume"
)

// GSS is the bank of Gaussian filters used to build the scale-space
// pyramid: one filter taking the raw input to the first pyramid level, and
// one incremental filter per subsequent level. The per-level filters are
// octave-independent because downsampling halves the blur together with
// the grid.
type GSS struct {
	// First takes the input data, assumed pre-blurred to sigma_n, to the
	// first level of the first octave.
	First *volume.SepFIRFilter

	// Levels holds the incremental filters, indexed by level minus the
	// pyramid's first level. Index 0 is unused (the first level is
	// produced by First or by downsampling).
	Levels []*volume.SepFIRFilter
}

// MakeGSS precomputes the filter bank for the given Gaussian pyramid
// geometry. Called whenever a parameter changes the pyramid shape.
func MakeGSS(gpyr *Pyramid) (*GSS, error) {
	gss := &GSS{}

	// The input arrives with nominal blur sigma_n in base units. If the
	// pyramid starts above octave 0 the data will have been decimated
	// first, shrinking that nominal blur with the grid.
	sigmaIn := gpyr.SigmaN * math.Pow(2, -float64(gpyr.FirstOctave))
	first, err := volume.NewGaussianIncremental(sigmaIn,
		gpyr.relScaleOf(gpyr.FirstLevel))
	if err != nil {
		return nil, fmt.Errorf("gss: first level: %w", err)
	}
	gss.First = first

	gss.Levels = make([]*volume.SepFIRFilter, gpyr.NumLevels)
	for l := gpyr.FirstLevel + 1; l <= gpyr.LastLevel(); l++ {
		f, err := volume.NewGaussianIncremental(gpyr.relScaleOf(l-1),
			gpyr.relScaleOf(l))
		if err != nil {
			return nil, fmt.Errorf("gss: level %d: %w", l, err)
		}
		gss.Levels[l-gpyr.FirstLevel] = f
	}

	return gss, nil
}

// BuildGaussian fills the Gaussian pyramid from the input volume. The input
// dimensions must match the first octave's dimensions. Each level's scale
// attribute is stamped with its design blur; the composition of the
// incremental filters is equivalent, up to convolution error, to a single
// blur at that design value.
func BuildGaussian(gpyr *Pyramid, gss *GSS, im *volume.Volume) error {
	first := gpyr.Get(gpyr.FirstOctave, gpyr.FirstLevel)
	if im.Nx != first.Nx || im.Ny != first.Ny || im.Nz != first.Nz {
		return fmt.Errorf("build gaussian: input %dx%dx%d does not match first octave %dx%dx%d",
			im.Nx, im.Ny, im.Nz, first.Nx, first.Ny, first.Nz)
	}

	// First level of the first octave, straight from the input.
	if err := gss.First.Apply(im, first); err != nil {
		return fmt.Errorf("build gaussian: %w", err)
	}
	first.Scale = gpyr.ScaleOf(gpyr.FirstOctave, gpyr.FirstLevel)

	for o := gpyr.FirstOctave; o <= gpyr.LastOctave(); o++ {
		for l := gpyr.FirstLevel + 1; l <= gpyr.LastLevel(); l++ {
			prev := gpyr.Get(o, l-1)
			cur := gpyr.Get(o, l)
			f := gss.Levels[l-gpyr.FirstLevel]
			if err := f.Apply(prev, cur); err != nil {
				return fmt.Errorf("build gaussian: octave %d level %d: %w",
					o, l, err)
			}
			cur.Scale = gpyr.ScaleOf(o, l)
		}

		if o == gpyr.LastOctave() {
			continue
		}

		// Seed the next octave by decimating the level whose blur is
		// exactly twice that of the first level.
		src := gpyr.Get(o, gpyr.FirstLevel+gpyr.NumKpLevels)
		dst := gpyr.Get(o+1, gpyr.FirstLevel)
		if err := volume.Downsample2x(src, dst); err != nil {
			return fmt.Errorf("build gaussian: octave %d: %w", o+1, err)
		}
		dst.Scale = gpyr.ScaleOf(o+1, gpyr.FirstLevel)
	}

	return nil
}

// BuildDoG fills the DoG pyramid by subtracting adjacent Gaussian levels:
// dog[o][l] = gpyr[o][l+1] - gpyr[o][l].
func BuildDoG(dog, gpyr *Pyramid) error {
	for o := dog.FirstOctave; o <= dog.LastOctave(); o++ {
		for l := dog.FirstLevel; l <= dog.LastLevel(); l++ {
			cur := gpyr.Get(o, l)
			next := gpyr.Get(o, l+1)
			level := dog.Get(o, l)
			if err := volume.Subtract(next, cur, level); err != nil {
				return fmt.Errorf("build dog: octave %d level %d: %w", o, l, err)
			}
			level.Scale = cur.Scale
		}
	}
	return nil
}
