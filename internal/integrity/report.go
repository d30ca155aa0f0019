package integrity

import (
	"fmt"
	"sort"
	"strings"
)

// Report is the outcome of verifying every fragment of one object. Each index
// lands in exactly one bucket: verified, failed (present but wrong), or
// missing (unreadable after retries).
type Report struct {
	ObjectID      string `json:"object_id"`
	FragmentCount int    `json:"fragment_count"`
	Verified      []int  `json:"verified"`
	Failed        []int  `json:"failed"`
	Missing       []int  `json:"missing"`
}

// NewReport returns an empty report for an object with fragmentCount fragments.
func NewReport(objectID string, fragmentCount int) *Report {
	return &Report{ObjectID: objectID, FragmentCount: fragmentCount}
}

// OK reports whether every fragment verified.
func (r *Report) OK() bool {
	return len(r.Failed) == 0 && len(r.Missing) == 0 && len(r.Verified) == r.FragmentCount
}

// AddVerified records index as intact.
func (r *Report) AddVerified(index int) { r.Verified = append(r.Verified, index) }

// AddFailed records index as present but failing verification.
func (r *Report) AddFailed(index int) { r.Failed = append(r.Failed, index) }

// AddMissing records index as unreadable.
func (r *Report) AddMissing(index int) { r.Missing = append(r.Missing, index) }

// Sort orders the index buckets ascending. Reports are filled by a worker
// pool, so arrival order is not deterministic.
func (r *Report) Sort() {
	sort.Ints(r.Verified)
	sort.Ints(r.Failed)
	sort.Ints(r.Missing)
}

// Summary renders the report in one line for CLI output and logs.
func (r *Report) Summary() string {
	if r.OK() {
		return fmt.Sprintf("object %s: all %d fragments verified", r.ObjectID, r.FragmentCount)
	}
	parts := []string{fmt.Sprintf("object %s: %d/%d fragments verified", r.ObjectID, len(r.Verified), r.FragmentCount)}
	if len(r.Failed) > 0 {
		parts = append(parts, fmt.Sprintf("failed %v", r.Failed))
	}
	if len(r.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %v", r.Missing))
	}
	return strings.Join(parts, ", ")
}
