package world

type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

// Block is the full recorded state of one cell: a material name, a free-form
// block data string (orientation, waterlogging, etc.) and optional serialized
// custom tag data for container-like blocks.
type Block struct {
	Material string
	Data     string
	Custom   []byte
}

const AirMaterial = "air"

func Air() Block { return Block{Material: AirMaterial} }

func (b Block) IsAir() bool { return b.Material == "" || b.Material == AirMaterial }

func (b Block) Equal(o Block) bool {
	if b.Material != o.Material || b.Data != o.Data {
		return false
	}
	if len(b.Custom) != len(o.Custom) {
		return false
	}
	for i := range b.Custom {
		if b.Custom[i] != o.Custom[i] {
			return false
		}
	}
	return true
}
