package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"volsift/pkg/config"
	"volsift/pkg/sift"
	"volsift/pkg/visualization"
	"volsift/pkg/volume"
)

// detectResult carries one volume's features back from its worker.
type detectResult struct {
	kp   sift.KeypointStore
	desc sift.DescriptorStore
	err  error
}

func main() {
	// Detector options (--first_octave, --peak_thresh, ...) are consumed
	// first; everything else is handled by the flag set below.
	det, err := sift.NewDetector()
	if err != nil {
		log.Fatalf("Failed to initialize detector: %v", err)
	}

	remaining, err := sift.ParseArgs(det, os.Args[1:], false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, sift.OptsUsage)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("volsift", flag.ExitOnError)
	inputDir := fs.String("input", "", "Directory containing 2D slices of the fixed volume")
	movingDir := fs.String("moving", "", "Directory containing 2D slices of a second volume to match against")
	keysOut := fs.String("keys", "keypoints.csv", "Output CSV for keypoints")
	descOut := fs.String("desc", "descriptors.csv", "Output CSV for descriptors")
	matchLeftOut := fs.String("match-left", "match_left.csv", "Output CSV for fixed-side match coordinates")
	matchRightOut := fs.String("match-right", "match_right.csv", "Output CSV for moving-side match coordinates")
	nnThresh := fs.Float64("nn_thresh", 0, "Lowe ratio threshold for matching (overrides config)")
	dense := fs.Bool("dense", false, "Extract dense per-voxel descriptors instead of keypoints")
	extractSlices := fs.Bool("extract-slices", false, "Save slice sequences of the processed volume")
	slicesDir := fs.String("slices-dir", "slices", "Directory for extracted slices")
	configPath := fs.String("config", "", "Optional YAML configuration file")
	if err := fs.Parse(remaining); err != nil {
		os.Exit(1)
	}

	if *inputDir == "" {
		fmt.Fprintln(os.Stderr, "volsift: --input is required")
		fs.Usage()
		fmt.Fprint(os.Stderr, sift.OptsUsage)
		os.Exit(1)
	}

	// Configuration file values sit below the command line: apply them to
	// a fresh detector, then re-apply the explicit flags on top.
	cfg := config.DefaultConfig()
	if *configPath != "" {
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		det, err = detectorFromConfig(cfg)
		if err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
		if _, err := sift.ParseArgs(det, os.Args[1:], false); err != nil {
			log.Fatalf("Invalid detector option: %v", err)
		}
	}
	det.SetDenseRotate(cfg.Dense.Rotate)

	matchOpts := sift.MatchOpts{
		NNThresh:        cfg.Matching.NNThresh,
		ForwardBackward: cfg.Matching.ForwardBackward,
		MaxDistFrac:     cfg.Matching.MaxDistFrac,
	}
	if *nnThresh > 0 {
		matchOpts.NNThresh = *nnThresh
	}

	fmt.Println("Loading fixed volume...")
	fixed, err := volume.LoadSliceDir(*inputDir)
	if err != nil {
		log.Fatalf("Failed to load input volume: %v", err)
	}
	fmt.Printf("Loaded volume with dimensions %dx%dx%d\n", fixed.Nx, fixed.Ny, fixed.Nz)

	if *dense {
		runDense(det, fixed, *extractSlices, *slicesDir)
		return
	}

	startTime := time.Now()

	if *movingDir == "" {
		res := detectAndDescribe(det, fixed, cfg.Output.Verbose)
		if res.err != nil {
			log.Fatalf("Detection failed: %v", res.err)
		}
		writeFeatures(*keysOut, *descOut, &res.kp, &res.desc, cfg.Output.Gzip)
		fmt.Printf("Done in %.2f seconds: %d keypoints\n",
			time.Since(startTime).Seconds(), len(res.kp.Keys))
	} else {
		fmt.Println("Loading moving volume...")
		moving, err := volume.LoadSliceDir(*movingDir)
		if err != nil {
			log.Fatalf("Failed to load moving volume: %v", err)
		}

		// Independent detectors are isolated, so the two volumes can be
		// processed concurrently.
		det2, err := sift.NewDetector()
		if err != nil {
			log.Fatalf("Failed to initialize detector: %v", err)
		}
		if err := det.Copy(det2); err != nil {
			log.Fatalf("Failed to copy detector: %v", err)
		}

		var wg sync.WaitGroup
		var resFixed, resMoving detectResult
		wg.Add(2)
		go func() {
			defer wg.Done()
			resFixed = detectAndDescribe(det, fixed, cfg.Output.Verbose)
		}()
		go func() {
			defer wg.Done()
			resMoving = detectAndDescribe(det2, moving, cfg.Output.Verbose)
		}()
		wg.Wait()

		if resFixed.err != nil {
			log.Fatalf("Detection failed on fixed volume: %v", resFixed.err)
		}
		if resMoving.err != nil {
			log.Fatalf("Detection failed on moving volume: %v", resMoving.err)
		}

		writeFeatures(*keysOut, *descOut, &resFixed.kp, &resFixed.desc, cfg.Output.Gzip)

		fmt.Println("Matching descriptors...")
		matches, err := sift.Match(&resFixed.desc, &resMoving.desc, matchOpts)
		if err != nil {
			log.Fatalf("Matching failed: %v", err)
		}

		left, right := *matchLeftOut, *matchRightOut
		if cfg.Output.Gzip {
			left += ".gz"
			right += ".gz"
		}
		if err := sift.WriteMatches(left, right, &resFixed.desc, &resMoving.desc, matches); err != nil {
			log.Fatalf("Failed to write matches: %v", err)
		}

		printMatchStats(&resFixed.desc, &resMoving.desc, matches)
		fmt.Printf("Done in %.2f seconds\n", time.Since(startTime).Seconds())
	}

	if *extractSlices {
		saveSlices(fixed, 0, *slicesDir)
	}
}

// detectorFromConfig builds a detector from a configuration block.
func detectorFromConfig(cfg *config.Config) (*sift.Detector, error) {
	d, err := sift.NewDetector()
	if err != nil {
		return nil, err
	}
	if err := d.SetSigmaN(cfg.Detector.SigmaN); err != nil {
		return nil, err
	}
	if err := d.SetSigma0(cfg.Detector.Sigma0); err != nil {
		return nil, err
	}
	if err := d.SetFirstOctave(cfg.Detector.FirstOctave); err != nil {
		return nil, err
	}
	if err := d.SetNumOctaves(cfg.Detector.NumOctaves); err != nil {
		return nil, err
	}
	if err := d.SetNumKpLevels(cfg.Detector.NumKpLevels); err != nil {
		return nil, err
	}
	if err := d.SetPeakThresh(cfg.Detector.PeakThresh); err != nil {
		return nil, err
	}
	if err := d.SetCornerThresh(cfg.Detector.CornerThresh); err != nil {
		return nil, err
	}
	return d, nil
}

// detectAndDescribe runs detection and description on one volume.
func detectAndDescribe(d *sift.Detector, vol *volume.Volume, verbose bool) detectResult {
	var res detectResult

	if verbose {
		fmt.Println("Detecting keypoints...")
	}
	if err := d.DetectKeypoints(vol, &res.kp); err != nil {
		res.err = err
		return res
	}
	if verbose {
		fmt.Printf("Detected %d keypoints\n", len(res.kp.Keys))
		fmt.Println("Extracting descriptors...")
	}
	if err := d.ExtractDescriptors(&res.kp, &res.desc); err != nil {
		res.err = err
	}
	return res
}

// writeFeatures saves the keypoint and descriptor stores.
func writeFeatures(keysPath, descPath string, kp *sift.KeypointStore,
	desc *sift.DescriptorStore, gz bool) {

	if gz {
		keysPath += ".gz"
		descPath += ".gz"
	}
	if err := sift.WriteKeypoints(keysPath, kp); err != nil {
		log.Fatalf("Failed to write keypoints: %v", err)
	}
	if err := sift.WriteDescriptors(descPath, desc); err != nil {
		log.Fatalf("Failed to write descriptors: %v", err)
	}
	fmt.Printf("Keypoints saved to: %s\n", keysPath)
	fmt.Printf("Descriptors saved to: %s\n", descPath)
}

// printMatchStats summarizes the spatial displacements of the accepted
// matches.
func printMatchStats(a, b *sift.DescriptorStore, matches []int) {
	var dists []float64
	for i, m := range matches {
		if m < 0 {
			continue
		}
		dx := b.Descs[m].Xd - a.Descs[i].Xd
		dy := b.Descs[m].Yd - a.Descs[i].Yd
		dz := b.Descs[m].Zd - a.Descs[i].Zd
		dists = append(dists, dx*dx+dy*dy+dz*dz)
	}

	fmt.Printf("Matched %d of %d descriptors\n", len(dists), len(matches))
	if len(dists) == 0 {
		return
	}

	sort.Float64s(dists)
	fmt.Printf("Match displacement (squared voxels): mean %.2f, median %.2f\n",
		stat.Mean(dists, nil), stat.Quantile(0.5, stat.Empirical, dists, nil))
}

// runDense extracts dense per-voxel descriptors and optionally saves every
// channel as a slice sequence.
func runDense(d *sift.Detector, vol *volume.Volume, extractSlices bool, slicesDir string) {
	fmt.Println("Extracting dense descriptors...")
	out := &volume.Volume{}
	if err := d.ExtractDenseDescriptors(vol, out); err != nil {
		log.Fatalf("Dense extraction failed: %v", err)
	}
	fmt.Printf("Dense descriptor volume: %dx%dx%d with %d channels\n",
		out.Nx, out.Ny, out.Nz, out.Nc)

	if extractSlices {
		for c := 0; c < out.Nc; c++ {
			saveSlices(out, c, filepath.Join(slicesDir, fmt.Sprintf("channel_%02d", c)))
		}
	}
}

// saveSlices saves x/y/z slice sequences of one channel of a volume.
func saveSlices(vol *volume.Volume, channel int, dir string) {
	viewer, err := visualization.NewViewer(vol, channel)
	if err != nil {
		log.Printf("Warning: %v", err)
		return
	}
	for _, axis := range []string{"x", "y", "z"} {
		axisDir := filepath.Join(dir, axis)
		fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
		if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
			log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
		}
	}
}
