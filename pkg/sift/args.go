package sift

import (
	"fmt"
	"strconv"
	"strings"
)

// Long-form option names accepted by ParseArgs.
const (
	optFirstOctave  = "first_octave"
	optPeakThresh   = "peak_thresh"
	optCornerThresh = "corner_thresh"
	optNumOctaves   = "num_octaves"
	optNumKpLevels  = "num_kp_levels"
	optSigmaN       = "sigma_n"
	optSigma0       = "sigma0"
)

// OptsUsage describes the detector options for command-line help output.
const OptsUsage = `Detector options:
 --first_octave [value]
    The first octave of the pyramid. Must be an integer. (default: 0)
 --peak_thresh [value]
    The smallest allowed absolute DoG value, on the interval (0, inf).
    (default: 0.03)
 --corner_thresh [value]
    The smallest allowed corner score, on the interval [0, 1].
    (default: 0.50)
 --num_octaves [value]
    The number of octaves to process. Must be a positive integer.
    (default: process as many as we can)
 --num_kp_levels [value]
    The number of pyramid levels per octave in which keypoints are found.
    Must be a positive integer. (default: 3)
 --sigma_n [value]
    The nominal scale parameter of the input data, on the interval
    [0, inf). (default: 1.15)
 --sigma0 [value]
    The scale parameter of level 0 of octave 0, on the interval
    [0, inf). (default: 1.60)
`

// ParseArgs applies the detector's long-form options from a command-line
// argument list and returns the arguments that were not consumed, in their
// original order. In strict mode an unrecognized --flag is an error; in
// lenient mode it is passed through for the caller to handle.
func ParseArgs(d *Detector, args []string, strict bool) ([]string, error) {
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if !strings.HasPrefix(arg, "--") {
			remaining = append(remaining, arg)
			continue
		}

		name := strings.TrimPrefix(arg, "--")
		value := ""
		hasValue := false
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			value = name[eq+1:]
			name = name[:eq]
			hasValue = true
		}

		if !isDetectorOpt(name) {
			if strict {
				return nil, fmt.Errorf("unrecognized option --%s", name)
			}
			remaining = append(remaining, arg)
			continue
		}

		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("option --%s requires an argument", name)
			}
			i++
			value = args[i]
		}

		if err := applyOpt(d, name, value); err != nil {
			return nil, err
		}
	}

	return remaining, nil
}

func isDetectorOpt(name string) bool {
	switch name {
	case optFirstOctave, optPeakThresh, optCornerThresh, optNumOctaves,
		optNumKpLevels, optSigmaN, optSigma0:
		return true
	}
	return false
}

func applyOpt(d *Detector, name, value string) error {
	switch name {
	case optFirstOctave, optNumOctaves, optNumKpLevels:
		ival, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("option --%s: invalid integer %q", name, value)
		}
		switch name {
		case optFirstOctave:
			return d.SetFirstOctave(ival)
		case optNumOctaves:
			if ival <= 0 {
				return fmt.Errorf("num_octaves must be positive, provided: %d", ival)
			}
			return d.SetNumOctaves(ival)
		default:
			return d.SetNumKpLevels(ival)
		}
	default:
		dval, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("option --%s: invalid number %q", name, value)
		}
		switch name {
		case optPeakThresh:
			return d.SetPeakThresh(dval)
		case optCornerThresh:
			return d.SetCornerThresh(dval)
		case optSigmaN:
			return d.SetSigmaN(dval)
		default:
			return d.SetSigma0(dval)
		}
	}
}
