package protocol

import "math"

// DefaultBlockSizeFor picks a block size tier from the transfer's
// total size, used when the caller's Properties.BlockSize is unset.
func DefaultBlockSizeFor(totalSize int64) int64 {
	switch {
	case totalSize <= 1*1024*1024:
		return 256 * 1024
	case totalSize <= 10*1024*1024:
		return 512 * 1024
	case totalSize <= 100*1024*1024:
		return 1 * 1024 * 1024
	case totalSize <= 1024*1024*1024:
		return 4 * 1024 * 1024
	default:
		return 8 * 1024 * 1024
	}
}

// BlockRange is one (range, blockId) pair from the decomposition
// step.
type BlockRange struct {
	BlockID string
	Start   int64
	End     int64 // exclusive
}

// Decompose computes the block list for a blob of totalSize bytes cut
// into blockSize pieces, with block IDs generated by idFor (typically
// a sequential or content-derived identifier depending on direction).
func Decompose(totalSize, blockSize int64, idFor func(index int) string) []BlockRange {
	if blockSize <= 0 {
		blockSize = DefaultBlockSizeFor(totalSize)
	}
	count := int(math.Ceil(float64(totalSize) / float64(blockSize)))
	out := make([]BlockRange, 0, count)
	for i := 0; i < count; i++ {
		start := int64(i) * blockSize
		end := start + blockSize
		if end > totalSize {
			end = totalSize
		}
		out = append(out, BlockRange{BlockID: idFor(i), Start: start, End: end})
	}
	return out
}
