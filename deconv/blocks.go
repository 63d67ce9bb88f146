package deconv

import (
	"github.com/pkg/errors"
)

// Block is one contiguous coefficient range assigned to a worker.  The
// owned interior [Start, End) ranges tile the chromosome exactly; the
// padded range [PadStart, PadEnd) adds the template radius on each side,
// clipped at chromosome boundaries, so the convolution's boundary effects
// are accounted for without reading counts outside the padded window.
type Block struct {
	Start, End       int
	PadStart, PadEnd int
}

// Len returns the owned width.
func (b Block) Len() int { return b.End - b.Start }

// PadLen returns the padded width.
func (b Block) PadLen() int { return b.PadEnd - b.PadStart }

// Partition divides [0, chromLength) into blocks of the given width, each
// padded by radius on both sides.  A width of zero selects an automatic
// width of chromLength / workers (at least 1 block per worker).
func Partition(chromLength, width, radius, workers int) ([]Block, error) {
	if chromLength <= 0 {
		return nil, errors.Errorf("partition: chromosome length must be positive, got %d", chromLength)
	}
	if radius < 0 {
		return nil, errors.Errorf("partition: negative template radius %d", radius)
	}
	if width < 0 {
		return nil, errors.Errorf("partition: negative block width %d", width)
	}
	if width == 0 {
		if workers < 1 {
			workers = 1
		}
		width = chromLength / workers
		if width < 1 {
			width = chromLength
		}
	}
	// Same-parity blocks in the even/odd schedule are separated by exactly
	// one block, so their padded context windows stay disjoint only when a
	// block spans at least two template radii.  A single block has no
	// neighbor and is exempt.
	if width < chromLength && width < 2*radius {
		return nil, errors.Errorf("partition: block width %d must be at least twice the template radius %d",
			width, radius)
	}
	var blocks []Block
	for start := 0; start < chromLength; start += width {
		end := start + width
		if end > chromLength {
			end = chromLength
		}
		b := Block{
			Start:    start,
			End:      end,
			PadStart: start - radius,
			PadEnd:   end + radius,
		}
		if b.PadStart < 0 {
			b.PadStart = 0
		}
		if b.PadEnd > chromLength {
			b.PadEnd = chromLength
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// blockWindow maps one block update into local coordinates.  The context
// window [CtxLo, CtxHi) extends two template radii beyond the owned range so
// that lambda is exact over the likelihood range [LLLo, LLHi), which in turn
// covers every count the owned coefficients [SLo, SHi) touch.
type blockWindow struct {
	CtxLo, CtxHi int // global bounds of the local slices
	LLLo, LLHi   int // likelihood range, local coordinates
	SLo, SHi     int // owned range, local coordinates
}

func windowFor(blk Block, radius, chromLength int) blockWindow {
	ctxLo := blk.Start - 2*radius
	if ctxLo < 0 {
		ctxLo = 0
	}
	ctxHi := blk.End + 2*radius
	if ctxHi > chromLength {
		ctxHi = chromLength
	}
	llLo := blk.Start - radius
	if llLo < 0 {
		llLo = 0
	}
	llHi := blk.End + radius
	if llHi > chromLength {
		llHi = chromLength
	}
	return blockWindow{
		CtxLo: ctxLo, CtxHi: ctxHi,
		LLLo: llLo - ctxLo, LLHi: llHi - ctxLo,
		SLo: blk.Start - ctxLo, SHi: blk.End - ctxLo,
	}
}

// offsetStarts returns the block start offsets for the two-phase MCMC scan:
// one sweep aligned at 0, w, 2w, ... and one at w/2, 3w/2, ....  The offset
// sweep re-cuts block boundaries so positions near a first-sweep boundary
// sit in a second-sweep interior.
func offsetStarts(chromLength, width int) (sweep0, sweep1 []int) {
	for s := 0; s < chromLength; s += width {
		sweep0 = append(sweep0, s)
	}
	for s := width / 2; s < chromLength; s += width {
		sweep1 = append(sweep1, s)
	}
	return sweep0, sweep1
}
