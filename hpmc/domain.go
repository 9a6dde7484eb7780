package hpmc

import (
	"github.com/sirupsen/logrus"
)

// Direction labels the six faces of a domain.
type Direction int

const (
	DirEast  Direction = iota // +x
	DirWest                   // -x
	DirNorth                  // +y
	DirSouth                  // -y
	DirUp                     // +z
	DirDown                   // -z
)

// Opposite returns the direction through the opposing face.
func (d Direction) Opposite() Direction {
	if d%2 == 0 {
		return d + 1
	}
	return d - 1
}

var dirOffsets = [6][3]int{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// DomainDecomposition partitions the global box into a grid of
// per-process sub-boxes and exposes the neighbor-rank topology. The
// process grid is always a torus for communication purposes, regardless
// of the physical box's periodic flags.
type DomainDecomposition struct {
	Nx, Ny, Nz int
	rank       int
	gridPos    [3]int
}

// FindDecomposition searches for the (nx, ny, nz) grid tiling nranks
// processes that minimizes the total interface area
// S = Lx*Ly*nz + Lx*Lz*ny + Ly*Lz*nx. Dimensions pinned to a nonzero
// value are held fixed; zero means unconstrained. The scan runs nx, then
// ny, then nz ascending and keeps only strictly smaller areas, so among
// equal-area factorizations the first one enumerated wins. That
// tie-break is deterministic and part of the contract.
func FindDecomposition(l Vec3, nranks, nx, ny, nz int) (int, int, int, bool) {
	bestArea := l.X*l.Y*float64(nranks) + l.X*l.Z + l.Y*l.Z
	bx, by, bz := 1, 1, nranks
	found := nx == 0 && ny == 0 && nz == 0

	for tx := 1; tx <= nranks; tx++ {
		if nx != 0 && tx != nx {
			continue
		}
		for ty := 1; tx*ty <= nranks; ty++ {
			if ny != 0 && ty != ny {
				continue
			}
			for tz := 1; tx*ty*tz <= nranks; tz++ {
				if nz != 0 && tz != nz {
					continue
				}
				if tx*ty*tz != nranks {
					continue
				}
				area := l.X*l.Y*float64(tz) + l.X*l.Z*float64(ty) + l.Y*l.Z*float64(tx)
				if area < bestArea || !found {
					bx, by, bz = tx, ty, tz
					bestArea = area
					found = true
				}
			}
		}
	}
	return bx, by, bz, found
}

// DecompositionResult is what the coordinating rank broadcasts after the
// search: the grid dimensions and the global box.
type DecompositionResult struct {
	Nx, Ny, Nz int
	Box        SimulationBox
}

// NewDomainDecomposition performs the decomposition search on the root
// rank and distributes the result to all ranks through comm. Requested
// dimensions of zero are chosen automatically; if the pinned request
// cannot tile nranks the root falls back to an unconstrained search
// before giving up.
func NewDomainDecomposition(comm Broadcaster, box SimulationBox, rank, nranks, root, nx, ny, nz int) (*DomainDecomposition, error) {
	var res DecompositionResult
	if rank == root {
		gx, gy, gz, found := FindDecomposition(box.L, nranks, nx, ny, nz)
		if !found {
			logrus.Warnf("no decomposition of %d ranks with requested grid (%d,%d,%d); choosing default", nranks, nx, ny, nz)
			gx, gy, gz, found = FindDecomposition(box.L, nranks, 0, 0, 0)
			if !found {
				return nil, fatalConfigf("no domain decomposition for %d ranks", nranks)
			}
		}
		res = DecompositionResult{Nx: gx, Ny: gy, Nz: gz, Box: box}
		if err := comm.Broadcast(root, &res); err != nil {
			return nil, err
		}
	} else {
		if err := comm.Broadcast(root, &res); err != nil {
			return nil, err
		}
	}

	dd := &DomainDecomposition{Nx: res.Nx, Ny: res.Ny, Nz: res.Nz, rank: rank}
	dd.gridPos = dd.GridPosition(rank)
	logrus.Infof("domain decomposition on %d ranks: n_x=%d n_y=%d n_z=%d", nranks, dd.Nx, dd.Ny, dd.Nz)
	return dd, nil
}

// GridPosition decodes a rank into its (x, y, z) grid coordinate,
// row-major with x varying fastest.
func (dd *DomainDecomposition) GridPosition(rank int) [3]int {
	x := rank % dd.Nx
	y := (rank / dd.Nx) % dd.Ny
	z := rank / (dd.Nx * dd.Ny)
	return [3]int{x, y, z}
}

func (dd *DomainDecomposition) rankOf(x, y, z int) int {
	return x + dd.Nx*(y+dd.Ny*z)
}

// NeighborRank returns the rank of the adjacent domain in the given
// direction, wrapping around the process grid torus.
func (dd *DomainDecomposition) NeighborRank(dir Direction) int {
	off := dirOffsets[dir]
	n := [3]int{dd.Nx, dd.Ny, dd.Nz}
	var c [3]int
	for ax := 0; ax < 3; ax++ {
		c[ax] = dd.gridPos[ax] + off[ax]
		if c[ax] < 0 {
			c[ax] += n[ax]
		} else if c[ax] == n[ax] {
			c[ax] -= n[ax]
		}
	}
	return dd.rankOf(c[0], c[1], c[2])
}

// IsAtBoundary reports whether this domain's face in the given direction
// coincides with the global box boundary.
func (dd *DomainDecomposition) IsAtBoundary(dir Direction) bool {
	switch dir {
	case DirEast:
		return dd.gridPos[0] == dd.Nx-1
	case DirWest:
		return dd.gridPos[0] == 0
	case DirNorth:
		return dd.gridPos[1] == dd.Ny-1
	case DirSouth:
		return dd.gridPos[1] == 0
	case DirUp:
		return dd.gridPos[2] == dd.Nz-1
	default:
		return dd.gridPos[2] == 0
	}
}

// LocalBox returns this rank's sub-box of the global box. Each axis is
// divided evenly by its grid count; an axis is locally periodic only
// when a single domain spans it.
func (dd *DomainDecomposition) LocalBox(global SimulationBox) SimulationBox {
	local := SimulationBox{
		L: Vec3{
			X: global.L.X / float64(dd.Nx),
			Y: global.L.Y / float64(dd.Ny),
			Z: global.L.Z / float64(dd.Nz),
		},
	}
	local.Lo = Vec3{
		X: global.Lo.X + float64(dd.gridPos[0])*local.L.X,
		Y: global.Lo.Y + float64(dd.gridPos[1])*local.L.Y,
		Z: global.Lo.Z + float64(dd.gridPos[2])*local.L.Z,
	}
	local.Periodic = [3]bool{dd.Nx == 1, dd.Ny == 1, dd.Nz == 1}
	return local
}
