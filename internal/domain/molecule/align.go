package molecule

import "math"

// OptimalRMSD returns the minimum root-mean-square deviation between two
// equally sized coordinate sets over all rigid-body superpositions
// (translation + rotation).  It uses Horn's quaternion formulation: the
// optimal RMSD falls out of the largest eigenvalue of a 4x4 symmetric key
// matrix, so no explicit rotation matrix is needed.
//
// The map builder uses this to break ties between candidate atom mappings:
// a mapping whose paired atoms superpose more tightly is the better
// alchemical core.
func OptimalRMSD(a, b []Vec3) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	n := float64(len(a))

	ca := centroid(a)
	cb := centroid(b)

	// Inner products of the centered sets and the cross-covariance matrix.
	var ga, gb float64
	var s [3][3]float64
	for i := range a {
		p := a[i].Sub(ca)
		q := b[i].Sub(cb)
		ga += p.X*p.X + p.Y*p.Y + p.Z*p.Z
		gb += q.X*q.X + q.Y*q.Y + q.Z*q.Z
		s[0][0] += p.X * q.X
		s[0][1] += p.X * q.Y
		s[0][2] += p.X * q.Z
		s[1][0] += p.Y * q.X
		s[1][1] += p.Y * q.Y
		s[1][2] += p.Y * q.Z
		s[2][0] += p.Z * q.X
		s[2][1] += p.Z * q.Y
		s[2][2] += p.Z * q.Z
	}

	// Horn's symmetric key matrix.
	k := [4][4]float64{
		{s[0][0] + s[1][1] + s[2][2], s[1][2] - s[2][1], s[2][0] - s[0][2], s[0][1] - s[1][0]},
		{s[1][2] - s[2][1], s[0][0] - s[1][1] - s[2][2], s[0][1] + s[1][0], s[2][0] + s[0][2]},
		{s[2][0] - s[0][2], s[0][1] + s[1][0], -s[0][0] + s[1][1] - s[2][2], s[1][2] + s[2][1]},
		{s[0][1] - s[1][0], s[2][0] + s[0][2], s[1][2] + s[2][1], -s[0][0] - s[1][1] + s[2][2]},
	}

	lambda := maxEigenvalueSym4(k)

	msd := (ga + gb - 2*lambda) / n
	if msd < 0 {
		msd = 0 // numerical noise
	}
	return math.Sqrt(msd)
}

func centroid(pts []Vec3) Vec3 {
	var c Vec3
	for _, p := range pts {
		c = c.Add(p)
	}
	return c.Scale(1 / float64(len(pts)))
}

// maxEigenvalueSym4 computes the largest eigenvalue of a symmetric 4x4
// matrix by cyclic Jacobi rotations.  Converges in a handful of sweeps for
// the well-conditioned matrices produced above.
func maxEigenvalueSym4(m [4][4]float64) float64 {
	const sweeps = 50
	const eps = 1e-12

	for sweep := 0; sweep < sweeps; sweep++ {
		off := 0.0
		for p := 0; p < 3; p++ {
			for q := p + 1; q < 4; q++ {
				off += m[p][q] * m[p][q]
			}
		}
		if off < eps {
			break
		}
		for p := 0; p < 3; p++ {
			for q := p + 1; q < 4; q++ {
				if math.Abs(m[p][q]) < eps {
					continue
				}
				theta := (m[q][q] - m[p][p]) / (2 * m[p][q])
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				for i := 0; i < 4; i++ {
					mip, miq := m[i][p], m[i][q]
					m[i][p] = c*mip - s*miq
					m[i][q] = s*mip + c*miq
				}
				for i := 0; i < 4; i++ {
					mpi, mqi := m[p][i], m[q][i]
					m[p][i] = c*mpi - s*mqi
					m[q][i] = s*mpi + c*mqi
				}
			}
		}
	}

	max := m[0][0]
	for i := 1; i < 4; i++ {
		if m[i][i] > max {
			max = m[i][i]
		}
	}
	return max
}
