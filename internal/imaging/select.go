package imaging

import (
	"errors"
	"strconv"
	"strings"
)

// ErrBadStride indicates a stride value that is not a positive integer.
var ErrBadStride = errors.New("stride must be a positive integer")

// ParseStride validates an "every nth slice" form value.
func ParseStride(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, ErrBadStride
	}
	return n, nil
}

// StrideIndices returns every stride-th index in [0, total), starting at 0.
// For total frames and stride k the result has exactly ceil(total/k) entries.
func StrideIndices(total, stride int) []int {
	if total <= 0 || stride <= 0 {
		return nil
	}
	indices := make([]int, 0, (total+stride-1)/stride)
	for i := 0; i < total; i += stride {
		indices = append(indices, i)
	}
	return indices
}
