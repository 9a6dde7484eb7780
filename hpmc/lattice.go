package hpmc

// NewCubicLattice places n particles of the given type on a simple
// cubic lattice inside the box, tagged 0..n-1 with identity
// orientations. The lattice pitch is the smallest that fits n sites, so
// any diameter up to the pitch starts overlap-free.
func NewCubicLattice(n int, box SimulationBox, typ int) []Particle {
	side := 1
	for side*side*side < n {
		side++
	}
	pitch := Vec3{
		X: box.L.X / float64(side),
		Y: box.L.Y / float64(side),
		Z: box.L.Z / float64(side),
	}
	particles := make([]Particle, 0, n)
	for k := 0; k < side && len(particles) < n; k++ {
		for j := 0; j < side && len(particles) < n; j++ {
			for i := 0; i < side && len(particles) < n; i++ {
				particles = append(particles, Particle{
					Position: Vec3{
						X: box.Lo.X + (float64(i)+0.5)*pitch.X,
						Y: box.Lo.Y + (float64(j)+0.5)*pitch.Y,
						Z: box.Lo.Z + (float64(k)+0.5)*pitch.Z,
					},
					Orientation: IdentityOrientation,
					Type:        typ,
					Tag:         uint64(len(particles)),
				})
			}
		}
	}
	return particles
}
