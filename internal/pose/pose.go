package pose

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MatrixValidationTolerance is the tolerance used when checking that a
// matrix is a proper rigid transform.
const MatrixValidationTolerance = 0.01

// gimbalEpsilon is the |cos(pitch)| below which roll and yaw are no longer
// separable when decomposing a rotation.
const gimbalEpsilon = 1e-9

// Pose is a position and Z-Y-X Euler orientation.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// FromVector builds a Pose from x, y, z, roll, pitch, yaw. Missing trailing
// components are zero.
func FromVector(v []float64) Pose {
	var a [6]float64
	copy(a[:], v)
	return Pose{X: a[0], Y: a[1], Z: a[2], Roll: a[3], Pitch: a[4], Yaw: a[5]}
}

// Vector returns the pose as x, y, z, roll, pitch, yaw.
func (p Pose) Vector() [6]float64 {
	return [6]float64{p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw}
}

// Add returns the component-wise sum of p and d with the result's angles
// wrapped into (-π, π].
func (p Pose) Add(d Pose) Pose {
	return Pose{
		X:     p.X + d.X,
		Y:     p.Y + d.Y,
		Z:     p.Z + d.Z,
		Roll:  WrapAngle(p.Roll + d.Roll),
		Pitch: WrapAngle(p.Pitch + d.Pitch),
		Yaw:   WrapAngle(p.Yaw + d.Yaw),
	}
}

// Rotation returns the 3x3 rotation matrix of the pose orientation.
func (p Pose) Rotation() *mat.Dense {
	sr, cr := math.Sincos(p.Roll)
	sp, cp := math.Sincos(p.Pitch)
	sy, cy := math.Sincos(p.Yaw)
	return mat.NewDense(3, 3, []float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr,
		-sp, cp * sr, cp * cr,
	})
}

// Matrix returns the 4x4 homogeneous transform of the pose.
func (p Pose) Matrix() *mat.Dense {
	r := p.Rotation()
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, r.At(i, j))
		}
	}
	m.Set(0, 3, p.X)
	m.Set(1, 3, p.Y)
	m.Set(2, 3, p.Z)
	m.Set(3, 3, 1)
	return m
}

// FromMatrix decomposes a 4x4 homogeneous transform into a Pose. At the
// pitch singularity roll is reported as zero and all rotation about the
// vertical axis is assigned to yaw.
func FromMatrix(m mat.Matrix) Pose {
	p := Pose{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}

	r20 := math.Max(-1, math.Min(1, m.At(2, 0)))
	p.Pitch = math.Asin(-r20)
	if math.Abs(math.Cos(p.Pitch)) < gimbalEpsilon {
		p.Roll = 0
		p.Yaw = math.Atan2(-m.At(0, 1), m.At(1, 1))
		return p
	}
	p.Roll = math.Atan2(m.At(2, 1), m.At(2, 2))
	p.Yaw = math.Atan2(m.At(1, 0), m.At(0, 0))
	return p
}

// Compose returns a ∘ b: the pose b expressed in the frame a is given in.
func Compose(a, b Pose) Pose {
	var out mat.Dense
	out.Mul(a.Matrix(), b.Matrix())
	return FromMatrix(&out)
}

// Inverse returns the pose that undoes p.
func (p Pose) Inverse() Pose {
	var inv mat.Dense
	if err := inv.Inverse(p.Matrix()); err != nil {
		// Rigid transforms are always invertible; a failure here means the
		// pose carried NaNs.
		return Pose{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
	}
	return FromMatrix(&inv)
}

// RotateVector rotates a body-frame vector into the pose's parent frame.
func (p Pose) RotateVector(v [3]float64) [3]float64 {
	var out mat.VecDense
	out.MulVec(p.Rotation(), mat.NewVecDense(3, v[:]))
	return [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// IsValidTransformMatrix reports whether m is a 4x4 rigid transform:
// a proper rotation block (det ≈ 1) and a last row of [0 0 0 1].
func IsValidTransformMatrix(m mat.Matrix) bool {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return false
	}

	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, m.At(i, j))
		}
	}
	if math.Abs(mat.Det(rot)-1.0) > MatrixValidationTolerance {
		return false
	}

	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || math.Abs(m.At(3, 3)-1.0) > 0.001 {
		return false
	}
	return true
}

// IsFinite reports whether every component of p is a finite number.
func (p Pose) IsFinite() bool {
	for _, v := range p.Vector() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// WrapAngle maps a into (-π, π].
func WrapAngle(a float64) float64 {
	if a > -math.Pi && a <= math.Pi {
		return a
	}
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
