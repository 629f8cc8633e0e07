package world

import "sort"

type ChunkKey struct {
	CX int
	CZ int
}

// Chunk holds a sparse 16x16 column of blocks. Anything absent is air, which
// keeps rollback targets cheap: most of a recorded region never deviates from
// the generated terrain.
type Chunk struct {
	CX, CZ int
	Blocks map[Vec3i]Block // keyed by local (x, y, z), x/z in [0,16)
}

func (c *Chunk) Get(local Vec3i) Block {
	if b, ok := c.Blocks[local]; ok {
		return b
	}
	return Air()
}

func (c *Chunk) Set(local Vec3i, b Block) {
	if b.IsAir() {
		delete(c.Blocks, local)
		return
	}
	c.Blocks[local] = b
}

// Store is an in-memory block store with the host world's bounds. It backs
// tests and the offline rollback tool; a live host supplies its own
// BlockAccess instead.
type Store struct {
	Height    int
	BoundaryR int // blocks; 0 means unbounded

	chunks map[ChunkKey]*Chunk
}

func NewStore(height, boundaryR int) *Store {
	if height <= 0 {
		height = 256
	}
	return &Store{
		Height:    height,
		BoundaryR: boundaryR,
		chunks:    make(map[ChunkKey]*Chunk),
	}
}

func (s *Store) InBounds(pos Vec3i) bool {
	if pos.Y < 0 || pos.Y >= s.Height {
		return false
	}
	if s.BoundaryR > 0 {
		if pos.X < -s.BoundaryR || pos.X > s.BoundaryR || pos.Z < -s.BoundaryR || pos.Z > s.BoundaryR {
			return false
		}
	}
	return true
}

func (s *Store) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// BlockEntry pairs an absolute position with the non-air block stored there.
type BlockEntry struct {
	Pos   Vec3i
	Block Block
}

// ChunkBlocks returns the non-air blocks of a loaded chunk in absolute
// coordinates, sorted by (y, z, x) so callers get stable output.
func (s *Store) ChunkBlocks(key ChunkKey) []BlockEntry {
	ch, ok := s.chunks[key]
	if !ok {
		return nil
	}
	entries := make([]BlockEntry, 0, len(ch.Blocks))
	for local, b := range ch.Blocks {
		entries = append(entries, BlockEntry{
			Pos:   Vec3i{X: key.CX*16 + local.X, Y: local.Y, Z: key.CZ*16 + local.Z},
			Block: b,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Pos, entries[j].Pos
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})
	return entries
}

func (s *Store) BlockAt(pos Vec3i) (Block, bool) {
	if !s.InBounds(pos) {
		return Air(), false
	}
	k := ChunkKey{CX: floorDiv(pos.X, 16), CZ: floorDiv(pos.Z, 16)}
	ch, ok := s.chunks[k]
	if !ok {
		return Air(), true
	}
	return ch.Get(s.local(pos)), true
}

func (s *Store) SetBlockAt(pos Vec3i, b Block) bool {
	if !s.InBounds(pos) {
		return false
	}
	ch := s.getOrCreateChunk(floorDiv(pos.X, 16), floorDiv(pos.Z, 16))
	ch.Set(s.local(pos), b)
	return true
}

func (s *Store) local(pos Vec3i) Vec3i {
	return Vec3i{X: mod(pos.X, 16), Y: pos.Y, Z: mod(pos.Z, 16)}
}

func (s *Store) getOrCreateChunk(cx, cz int) *Chunk {
	k := ChunkKey{CX: cx, CZ: cz}
	if ch, ok := s.chunks[k]; ok {
		return ch
	}
	ch := &Chunk{CX: cx, CZ: cz, Blocks: make(map[Vec3i]Block)}
	s.chunks[k] = ch
	return ch
}
