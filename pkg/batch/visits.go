package batch

// HostVisits remembers which hosts a batch has already navigated to. It is
// owned by a single FetchBatch call and is not safe for concurrent use.
type HostVisits struct {
	seen map[string]bool
}

// NewHostVisits returns an empty visit set.
func NewHostVisits() *HostVisits {
	return &HostVisits{seen: make(map[string]bool)}
}

// Seen reports whether host was marked earlier in the batch.
func (v *HostVisits) Seen(host string) bool {
	return v.seen[host]
}

// Mark records a visit to host. Marking happens before the fetch, so a
// failed first visit still counts.
func (v *HostVisits) Mark(host string) {
	v.seen[host] = true
}

// Len returns the number of distinct hosts visited.
func (v *HostVisits) Len() int {
	return len(v.seen)
}
