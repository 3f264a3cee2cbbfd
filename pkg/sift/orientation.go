package sift

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"volsift/pkg/mesh"
	"volsift/pkg/volume"
)

// assignEigOri computes a local orientation frame at the continuous point
// (cx, cy, cz) of im from the eigendecomposition of a Gaussian-weighted
// structure tensor. On success R holds a right-handed orthonormal rotation
// matrix in row-major order. rejected reports an orientationally unstable
// point: weak windowed gradient, near-equal eigenvalues, or a corner score
// below the threshold.
func (d *Detector) assignEigOri(im *volume.Volume, cx, cy, cz, sigma float64,
	R *[9]float64) (rejected bool, err error) {

	winRadius := sigma * oriRadFctr

	// Gaussian-weighted structure tensor and windowed gradient sum.
	var axx, axy, axz, ayy, ayz, azz float64
	var gwin mesh.Vec3
	im.ForEachSphere(cx, cy, cz, winRadius,
		func(x, y, z int, dx, dy, dz, sqDist float64) {
			weight := gaussWeight(sqDist, sigma)
			gx, gy, gz := im.Gradient(x, y, z)

			axx += gx * gx * weight
			axy += gx * gy * weight
			axz += gx * gz * weight
			ayy += gy * gy * weight
			ayz += gy * gz * weight
			azz += gz * gz * weight

			gwin.X += gx
			gwin.Y += gy
			gwin.Z += gz
		})

	if gwin.NormSq() < oriGradThresh {
		return true, nil
	}

	a := mat.NewSymDense(3, []float64{
		axx, axy, axz,
		axy, ayy, ayz,
		axz, ayz, azz,
	})

	var eig mat.EigenSym
	if !eig.Factorize(a, true) {
		return false, fmt.Errorf("orientation: eigendecomposition failed")
	}

	// Eigenvalues in ascending order; adjacent magnitudes too close mean
	// the frame is not well determined.
	vals := eig.Values(nil)
	if len(vals) != 3 {
		return true, nil
	}
	for i := 0; i < 2; i++ {
		if math.Abs(vals[i]/vals[i+1]) > maxEigRatio {
			return true, nil
		}
	}

	var q mat.Dense
	eig.VectorsTo(&q)

	// Take the two dominant eigenvectors, sign-aligned with the windowed
	// gradient, as the first two frame axes.
	var v [2]mesh.Vec3
	for i := 0; i < 2; i++ {
		col := 2 - i
		vr := mesh.Vec3{X: q.At(0, col), Y: q.At(1, col), Z: q.At(2, col)}

		dd := gwin.Dot(vr)
		cosAng := dd / (vr.Norm() * gwin.Norm())
		if math.Abs(cosAng) < d.cornerThresh {
			return true, nil
		}
		if dd < 0 {
			vr = vr.Scale(-1)
		}

		R[0+i] = vr.X
		R[3+i] = vr.Y
		R[6+i] = vr.Z
		v[i] = vr
	}

	// Complete the right-handed frame.
	vr := v[0].Cross(v[1])
	R[2] = vr.X
	R[5] = vr.Y
	R[8] = vr.Z

	return false, nil
}

// assignOrientations assigns a rotation matrix to every refined keypoint,
// compacting the store in place as unstable points are rejected. Survivor
// order is preserved.
func (d *Detector) assignOrientations(kp *KeypointStore) error {
	pos := 0
	for i := range kp.Keys {
		key := &kp.Keys[i]
		level := d.gpyr.Get(key.O, key.S)
		sigma := oriSigFctr * key.SdRel

		rejected, err := d.assignEigOri(level, key.Xd, key.Yd, key.Zd,
			sigma, &key.R)
		if err != nil {
			return err
		}
		if rejected {
			continue
		}

		kp.Keys[pos] = *key
		pos++
	}

	kp.Keys = kp.Keys[:pos]
	return nil
}
