package hpmc

// BroadPhase is the consumed spatial index: it enumerates candidate
// neighbor indices near a position. How the index is built is outside
// the engine; the cell list below is the default in-process provider.
type BroadPhase interface {
	// Rebuild indexes the given particles (local plus ghosts).
	Rebuild(box SimulationBox, particles []Particle)

	// Candidates appends to dst the indices of particles whose cell is
	// adjacent to the cell containing p, including p's own cell, and
	// returns the extended slice.
	Candidates(p Vec3, dst []int) []int
}

// CellList is a uniform-grid broad phase with cell width at least the
// interaction range, so all interacting pairs are found among adjacent
// cells.
type CellList struct {
	width   float64
	box     SimulationBox
	dims    [3]int
	members [][]int
}

// NewCellList creates a cell list with a nominal cell width. The actual
// width is rounded up so the cells tile the box evenly.
func NewCellList(width float64) *CellList {
	return &CellList{width: width}
}

func (c *CellList) cellCoord(p Vec3) (int, int, int) {
	f := p.Sub(c.box.Lo)
	ix := int(f.X / c.box.L.X * float64(c.dims[0]))
	iy := int(f.Y / c.box.L.Y * float64(c.dims[1]))
	iz := int(f.Z / c.box.L.Z * float64(c.dims[2]))
	clampAxis := func(i, n int) int {
		if i < 0 {
			return 0
		}
		if i >= n {
			return n - 1
		}
		return i
	}
	return clampAxis(ix, c.dims[0]), clampAxis(iy, c.dims[1]), clampAxis(iz, c.dims[2])
}

func (c *CellList) cellIndex(ix, iy, iz int) int {
	return ix + c.dims[0]*(iy+c.dims[1]*iz)
}

// Rebuild implements BroadPhase.
func (c *CellList) Rebuild(box SimulationBox, particles []Particle) {
	c.box = box
	for ax, l := range [3]float64{box.L.X, box.L.Y, box.L.Z} {
		n := int(l / c.width)
		if n < 1 {
			n = 1
		}
		c.dims[ax] = n
	}
	ncell := c.dims[0] * c.dims[1] * c.dims[2]
	if cap(c.members) < ncell {
		c.members = make([][]int, ncell)
	}
	c.members = c.members[:ncell]
	for i := range c.members {
		c.members[i] = c.members[i][:0]
	}
	for i, p := range particles {
		ix, iy, iz := c.cellCoord(box.Wrap(p.Position))
		ci := c.cellIndex(ix, iy, iz)
		c.members[ci] = append(c.members[ci], i)
	}
}

// Candidates implements BroadPhase. Adjacency wraps along periodic axes;
// duplicate cells from small dimensions are visited once.
func (c *CellList) Candidates(p Vec3, dst []int) []int {
	ix, iy, iz := c.cellCoord(c.box.Wrap(p))
	var seen [27]int
	nseen := 0
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				jx := wrapCell(ix+dx, c.dims[0], c.box.Periodic[0])
				jy := wrapCell(iy+dy, c.dims[1], c.box.Periodic[1])
				jz := wrapCell(iz+dz, c.dims[2], c.box.Periodic[2])
				if jx < 0 || jy < 0 || jz < 0 {
					continue
				}
				ci := c.cellIndex(jx, jy, jz)
				dup := false
				for _, s := range seen[:nseen] {
					if s == ci {
						dup = true
						break
					}
				}
				if dup {
					continue
				}
				seen[nseen] = ci
				nseen++
				dst = append(dst, c.members[ci]...)
			}
		}
	}
	return dst
}

func wrapCell(i, n int, periodic bool) int {
	if i < 0 {
		if !periodic {
			return -1
		}
		return i + n
	}
	if i >= n {
		if !periodic {
			return -1
		}
		return i - n
	}
	return i
}
