package multipart

import "fmt"

// PartCount returns the number of parts a payload of totalSize bytes is split into.
func PartCount(totalSize, partSize int64) int {
	if totalSize <= 0 || partSize <= 0 {
		return 0
	}
	return int((totalSize + partSize - 1) / partSize)
}

// SplitParts returns the contiguous parts covering [0, totalSize).
// Every part is partSize long except the last one, which may be shorter.
func SplitParts(totalSize, partSize int64) ([]Part, error) {
	if partSize <= 0 {
		return nil, fmt.Errorf("part size must be positive, got %d", partSize)
	}
	if totalSize < 0 {
		return nil, fmt.Errorf("payload size must not be negative, got %d", totalSize)
	}

	parts := make([]Part, 0, PartCount(totalSize, partSize))
	for offset := int64(0); offset < totalSize; offset += partSize {
		length := partSize
		if remaining := totalSize - offset; remaining < length {
			length = remaining
		}
		parts = append(parts, Part{
			Index:  len(parts),
			Offset: offset,
			Length: length,
		})
	}
	return parts, nil
}
