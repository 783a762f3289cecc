package batch

const (
	// SmallJobThreshold is the largest total_count that is processed one id at a time
	SmallJobThreshold = 100
	SmallChunkSize    = 1
	LargeChunkSize    = 5
)

// ChunkSize returns how many identifiers are mutated between cancellation checks
func ChunkSize(total int) int {
	if total <= SmallJobThreshold {
		return SmallChunkSize
	}
	return LargeChunkSize
}

// chunkBounds returns the [start, end) window of the chunk that begins at offset
func chunkBounds(offset, size, total int) (int, int) {
	end := offset + size
	if end > total {
		end = total
	}
	return offset, end
}
