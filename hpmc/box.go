package hpmc

// Vec3 is a position or displacement in the simulation frame.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v.X + w.X, v.Y + w.Y, v.Z + w.Z} }

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v.X - w.X, v.Y - w.Y, v.Z - w.Z} }

// Norm2 returns the squared Euclidean length of v.
func (v Vec3) Norm2() float64 { return v.X*v.X + v.Y*v.Y + v.Z*v.Z }

// SimulationBox is an axis-aligned box with a per-axis periodic flag.
// Lo is the lower corner, L the edge lengths.
type SimulationBox struct {
	Lo       Vec3
	L        Vec3
	Periodic [3]bool
}

// NewCubicBox returns a fully periodic cube of edge length l with the
// origin at the lower corner.
func NewCubicBox(l float64) SimulationBox {
	return SimulationBox{L: Vec3{l, l, l}, Periodic: [3]bool{true, true, true}}
}

// Volume returns the box volume.
func (b SimulationBox) Volume() float64 { return b.L.X * b.L.Y * b.L.Z }

// Hi returns the upper corner of the box.
func (b SimulationBox) Hi() Vec3 { return b.Lo.Add(b.L) }

func wrapAxis(d, l float64) float64 {
	if d > 0.5*l {
		return d - l
	}
	if d < -0.5*l {
		return d + l
	}
	return d
}

// MinImage returns the minimum-image displacement of d under the box's
// periodic axes. Non-periodic axes pass through unchanged.
func (b SimulationBox) MinImage(d Vec3) Vec3 {
	if b.Periodic[0] {
		d.X = wrapAxis(d.X, b.L.X)
	}
	if b.Periodic[1] {
		d.Y = wrapAxis(d.Y, b.L.Y)
	}
	if b.Periodic[2] {
		d.Z = wrapAxis(d.Z, b.L.Z)
	}
	return d
}

// Wrap folds p back into the box along periodic axes.
func (b SimulationBox) Wrap(p Vec3) Vec3 {
	hi := b.Hi()
	if b.Periodic[0] {
		for p.X < b.Lo.X {
			p.X += b.L.X
		}
		for p.X >= hi.X {
			p.X -= b.L.X
		}
	}
	if b.Periodic[1] {
		for p.Y < b.Lo.Y {
			p.Y += b.L.Y
		}
		for p.Y >= hi.Y {
			p.Y -= b.L.Y
		}
	}
	if b.Periodic[2] {
		for p.Z < b.Lo.Z {
			p.Z += b.L.Z
		}
		for p.Z >= hi.Z {
			p.Z -= b.L.Z
		}
	}
	return p
}

// Contains reports whether p lies inside the half-open box [Lo, Lo+L).
func (b SimulationBox) Contains(p Vec3) bool {
	hi := b.Hi()
	return p.X >= b.Lo.X && p.X < hi.X &&
		p.Y >= b.Lo.Y && p.Y < hi.Y &&
		p.Z >= b.Lo.Z && p.Z < hi.Z
}
