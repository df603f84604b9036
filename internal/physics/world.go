package physics

// World exposes voxel occupancy to the movement resolver.
type World interface {
	Solid(x, y, z int) bool
}

// VoxelGrid is a dense voxel world. Cells below y=0 are always solid so an
// empty grid still has a floor.
type VoxelGrid struct {
	sizeX, sizeY, sizeZ int
	cells               []bool
}

// NewVoxelGrid allocates an empty grid of the given dimensions.
func NewVoxelGrid(sizeX, sizeY, sizeZ int) *VoxelGrid {
	if sizeX < 0 {
		sizeX = 0
	}
	if sizeY < 0 {
		sizeY = 0
	}
	if sizeZ < 0 {
		sizeZ = 0
	}
	return &VoxelGrid{sizeX: sizeX, sizeY: sizeY, sizeZ: sizeZ, cells: make([]bool, sizeX*sizeY*sizeZ)}
}

// Set marks a voxel solid or empty. Coordinates outside the grid are ignored.
func (g *VoxelGrid) Set(x, y, z int, solid bool) {
	if idx, ok := g.index(x, y, z); ok {
		g.cells[idx] = solid
	}
}

// Fill marks the inclusive box between two corners.
func (g *VoxelGrid) Fill(x0, y0, z0, x1, y1, z1 int, solid bool) {
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			for z := z0; z <= z1; z++ {
				g.Set(x, y, z, solid)
			}
		}
	}
}

// Solid reports occupancy at the voxel coordinate.
func (g *VoxelGrid) Solid(x, y, z int) bool {
	if y < 0 {
		return true
	}
	if g == nil {
		return false
	}
	idx, ok := g.index(x, y, z)
	return ok && g.cells[idx]
}

func (g *VoxelGrid) index(x, y, z int) (int, bool) {
	if x < 0 || y < 0 || z < 0 || x >= g.sizeX || y >= g.sizeY || z >= g.sizeZ {
		return 0, false
	}
	return (y*g.sizeZ+z)*g.sizeX + x, true
}

// flatWorld is used when no world is supplied.
type flatWorld struct{}

func (flatWorld) Solid(_, y, _ int) bool { return y < 0 }
