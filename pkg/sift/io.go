package sift

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// kpNumCols is the column count of a keypoint row: three coordinates, the
// scale, and the nine orientation matrix elements.
const kpNumCols = 13

// openCSVWriter opens path for writing, transparently gzipping when the
// path ends in .gz. The returned closer flushes everything.
func openCSVWriter(path string) (*csv.Writer, func() error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}

	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		w := csv.NewWriter(gz)
		closer := func() error {
			w.Flush()
			if err := w.Error(); err != nil {
				gz.Close()
				f.Close()
				return err
			}
			if err := gz.Close(); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		}
		return w, closer, nil
	}

	w := csv.NewWriter(f)
	closer := func() error {
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return w, closer, nil
}

// openCSVReader opens path for reading, transparently gunzipping when the
// path ends in .gz.
func openCSVReader(path string) (*csv.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	var src io.Reader = f
	closer := func() error { return f.Close() }
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		src = gz
		closer = func() error {
			gz.Close()
			return f.Close()
		}
	}

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	return r, closer, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteKeypoints writes a keypoint store as CSV (gzipped for a .gz path).
// Each row is [x y z s R00 R01 R02 R10 R11 R12 R20 R21 R22], with the
// coordinates scaled to the base octave.
func WriteKeypoints(path string, kp *KeypointStore) error {
	w, closer, err := openCSVWriter(path)
	if err != nil {
		return fmt.Errorf("writing keypoints: %w", err)
	}

	row := make([]string, kpNumCols)
	for i := range kp.Keys {
		key := &kp.Keys[i]
		factor := coordFactor(key.O)

		row[0] = formatFloat(key.Xd * factor)
		row[1] = formatFloat(key.Yd * factor)
		row[2] = formatFloat(key.Zd * factor)
		row[3] = formatFloat(key.Sd)
		for j, r := range key.R {
			row[4+j] = formatFloat(r)
		}
		if err := w.Write(row); err != nil {
			closer()
			return fmt.Errorf("writing keypoints: %w", err)
		}
	}

	if err := closer(); err != nil {
		return fmt.Errorf("writing keypoints: %w", err)
	}
	return nil
}

// ReadKeypoints reads a keypoint CSV written by WriteKeypoints. The
// keypoints are placed at octave 0, so the stored base-octave coordinates
// are used directly.
func ReadKeypoints(path string) (*KeypointStore, error) {
	r, closer, err := openCSVReader(path)
	if err != nil {
		return nil, fmt.Errorf("reading keypoints: %w", err)
	}
	defer closer()

	kp := &KeypointStore{}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading keypoints: %w", err)
		}
		if len(rec) != kpNumCols {
			return nil, fmt.Errorf("reading keypoints: row has %d columns, want %d",
				len(rec), kpNumCols)
		}

		vals := make([]float64, kpNumCols)
		for i, s := range rec {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("reading keypoints: %w", err)
			}
			vals[i] = v
		}

		key := Keypoint{
			Xd:    vals[0],
			Yd:    vals[1],
			Zd:    vals[2],
			Sd:    vals[3],
			SdRel: vals[3],
			Xi:    int(math.Floor(vals[0])),
			Yi:    int(math.Floor(vals[1])),
			Zi:    int(math.Floor(vals[2])),
		}
		copy(key.R[:], vals[4:])
		kp.Keys = append(kp.Keys, key)
	}

	return kp, nil
}

// WriteDescriptors writes a descriptor store as CSV (gzipped for a .gz
// path). Each row holds the bins of one descriptor, spatial-cell major.
func WriteDescriptors(path string, ds *DescriptorStore) error {
	w, closer, err := openCSVWriter(path)
	if err != nil {
		return fmt.Errorf("writing descriptors: %w", err)
	}

	row := make([]string, DescNumTotalHist*ds.HistLen)
	for i := range ds.Descs {
		col := 0
		for _, hist := range ds.Descs[i].Hists {
			for _, v := range hist {
				row[col] = formatFloat(v)
				col++
			}
		}
		if err := w.Write(row); err != nil {
			closer()
			return fmt.Errorf("writing descriptors: %w", err)
		}
	}

	if err := closer(); err != nil {
		return fmt.Errorf("writing descriptors: %w", err)
	}
	return nil
}

// ReadDescriptors reads a descriptor CSV written by WriteDescriptors. The
// histogram length is inferred from the column count. Descriptor locations
// are not part of the file format and are left zero.
func ReadDescriptors(path string) (*DescriptorStore, error) {
	r, closer, err := openCSVReader(path)
	if err != nil {
		return nil, fmt.Errorf("reading descriptors: %w", err)
	}
	defer closer()

	ds := &DescriptorStore{}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading descriptors: %w", err)
		}
		if len(rec)%DescNumTotalHist != 0 {
			return nil, fmt.Errorf("reading descriptors: %d columns is not a multiple of %d histograms",
				len(rec), DescNumTotalHist)
		}

		histLen := len(rec) / DescNumTotalHist
		if ds.HistLen == 0 {
			ds.HistLen = histLen
		} else if ds.HistLen != histLen {
			return nil, fmt.Errorf("reading descriptors: inconsistent histogram length")
		}

		desc := Descriptor{Hists: make([]Hist, DescNumTotalHist)}
		col := 0
		for j := range desc.Hists {
			hist := make(Hist, histLen)
			for k := range hist {
				v, err := strconv.ParseFloat(rec[col], 64)
				if err != nil {
					return nil, fmt.Errorf("reading descriptors: %w", err)
				}
				hist[k] = v
				col++
			}
			desc.Hists[j] = hist
		}
		ds.Descs = append(ds.Descs, desc)
	}

	return ds, nil
}

// WriteMatches writes a match list as two coordinate CSVs with
// corresponding rows, one per side. Only valid matches are written.
func WriteMatches(pathA, pathB string, a, b *DescriptorStore, matches []int) error {
	m1, m2, err := MatchesToCoords(a, b, matches)
	if err != nil {
		return fmt.Errorf("writing matches: %w", err)
	}
	if err := writeCoordCSV(pathA, m1); err != nil {
		return fmt.Errorf("writing matches: %w", err)
	}
	if err := writeCoordCSV(pathB, m2); err != nil {
		return fmt.Errorf("writing matches: %w", err)
	}
	return nil
}

// writeCoordCSV writes an n x 3 coordinate matrix as CSV.
func writeCoordCSV(path string, m *mat.Dense) error {
	w, closer, err := openCSVWriter(path)
	if err != nil {
		return err
	}

	rows, _ := m.Dims()
	row := make([]string, 3)
	for i := 0; i < rows; i++ {
		for j := 0; j < 3; j++ {
			row[j] = formatFloat(m.At(i, j))
		}
		if err := w.Write(row); err != nil {
			closer()
			return err
		}
	}

	return closer()
}
