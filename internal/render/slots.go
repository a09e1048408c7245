package render

import (
	"encoding/binary"
	"math"
)

// Mat4 is a 4x4 matrix in column-major order.
type Mat4 [16]float32

// Identity returns the identity matrix.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul returns a * b.
func (a Mat4) Mul(b Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += a[k*4+row] * b[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

// DescriptorSize is the size of one eye descriptor: a view matrix followed
// by a projection matrix, 16 little-endian float32 each.
const DescriptorSize = 2 * 16 * 4

// EyeDescriptor is the native memory block for one eye slot.
type EyeDescriptor [DescriptorSize]byte

// View decodes the view matrix.
func (d *EyeDescriptor) View() Mat4 { return d.matrix(0) }

// Projection decodes the projection matrix.
func (d *EyeDescriptor) Projection() Mat4 { return d.matrix(64) }

func (d *EyeDescriptor) matrix(off int) Mat4 {
	var m Mat4
	for i := range m {
		m[i] = math.Float32frombits(binary.LittleEndian.Uint32(d[off+i*4:]))
	}
	return m
}

func (d *EyeDescriptor) put(view, proj Mat4) {
	for i, v := range view {
		binary.LittleEndian.PutUint32(d[i*4:], math.Float32bits(v))
	}
	for i, v := range proj {
		binary.LittleEndian.PutUint32(d[64+i*4:], math.Float32bits(v))
	}
}

// EyeSlots owns the two eye descriptors. A slot is allocated on its first
// Write and both are freed by Release. Only the submission step of one
// FrameRenderSync writes to them, alternating slots, so a slot is never
// rewritten while the other is the most recent submission.
type EyeSlots struct {
	blocks   [2]*EyeDescriptor
	released bool
}

// Write stores view and projection into slot and returns its block.
// It returns nil after Release.
func (s *EyeSlots) Write(slot int, view, proj Mat4) *EyeDescriptor {
	if s.released {
		return nil
	}
	if s.blocks[slot] == nil {
		s.blocks[slot] = new(EyeDescriptor)
	}
	s.blocks[slot].put(view, proj)
	return s.blocks[slot]
}

// Allocated reports whether slot has been allocated and not released.
func (s *EyeSlots) Allocated(slot int) bool {
	return s.blocks[slot] != nil
}

// Release frees both blocks. It reports whether this call did the freeing.
func (s *EyeSlots) Release() bool {
	if s.released {
		return false
	}
	s.released = true
	s.blocks = [2]*EyeDescriptor{}
	return true
}
