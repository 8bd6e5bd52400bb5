package client

import (
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// PartRange is one part's byte range within the file.
type PartRange struct {
	PartNumber int
	Offset     int64
	Size       int64
}

// Plan splits a file into parts.
type Plan struct {
	PartSize int64
	Parts    []PartRange
}

// Count returns the number of parts.
func (p Plan) Count() int {
	return len(p.Parts)
}

// PlanParts splits size bytes into parts of at least preferred bytes. Every
// part but the last is at least MinPartSize, and the part size grows in whole
// MiB steps when needed to stay within MaxParts. A zero size yields one empty part.
func PlanParts(size, preferred int64) Plan {
	partSize := max(preferred, uploadtypes.MinPartSize)
	if size > partSize*uploadtypes.MaxParts {
		const mib = 1 << 20
		partSize = (size + uploadtypes.MaxParts - 1) / uploadtypes.MaxParts
		partSize = (partSize + mib - 1) / mib * mib
	}

	count := int((size + partSize - 1) / partSize)
	if count == 0 {
		count = 1
	}

	parts := make([]PartRange, count)
	for i := range parts {
		offset := int64(i) * partSize
		parts[i] = PartRange{
			PartNumber: i + 1,
			Offset:     offset,
			Size:       min(partSize, size-offset),
		}
	}
	return Plan{PartSize: partSize, Parts: parts}
}
