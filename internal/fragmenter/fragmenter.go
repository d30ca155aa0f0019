package fragmenter

import (
	"errors"
	"fmt"
	"sort"
)

// ErrFragmentSize reports a non-positive fragment size. It is a configuration
// fault; no data content can produce it.
var ErrFragmentSize = errors.New("fragment size must be a positive number of bytes")

// OrderError reports a fragment sequence that cannot be joined back into a
// stream: an index gap, a duplicate index, or a run that does not start at zero.
type OrderError struct {
	Reason string
	Index  int
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("fragment order violation at index %d: %s", e.Index, e.Reason)
}

// Piece is one fragment payload together with its position in the stream.
type Piece struct {
	Index int
	Data  []byte
}

// Split cuts data into consecutive chunks of fragmentSize bytes. Every chunk
// except possibly the last is exactly fragmentSize long; empty input yields no
// chunks. The returned slices alias data and must be treated as read-only.
func Split(data []byte, fragmentSize int) ([][]byte, error) {
	if fragmentSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrFragmentSize, fragmentSize)
	}
	chunks := make([][]byte, 0, Count(len(data), fragmentSize))
	for start := 0; start < len(data); start += fragmentSize {
		end := start + fragmentSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end:end])
	}
	return chunks, nil
}

// Count returns the number of chunks Split produces for dataLen bytes.
func Count(dataLen, fragmentSize int) int {
	if fragmentSize < 1 || dataLen <= 0 {
		return 0
	}
	return (dataLen + fragmentSize - 1) / fragmentSize
}

// Join reassembles pieces into the original stream. Pieces may arrive in any
// order, but their indexes must form a contiguous run starting at zero;
// anything else returns an *OrderError and no data.
func Join(pieces []Piece) ([]byte, error) {
	if len(pieces) == 0 {
		return []byte{}, nil
	}
	sorted := make([]Piece, len(pieces))
	copy(sorted, pieces)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	total := 0
	for i, p := range sorted {
		switch {
		case p.Index < 0:
			return nil, &OrderError{Reason: "negative index", Index: p.Index}
		case p.Index < i:
			return nil, &OrderError{Reason: "duplicate index", Index: p.Index}
		case p.Index > i:
			return nil, &OrderError{Reason: "missing index", Index: i}
		}
		total += len(p.Data)
	}

	out := make([]byte, 0, total)
	for _, p := range sorted {
		out = append(out, p.Data...)
	}
	return out, nil
}
