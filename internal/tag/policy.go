package tag

// FlowPolicy is the update flow policy of the tag family.
//
// A candidate replaces the cached tag when:
//   - nothing usable is cached yet (no entry or no timestamp), or
//   - its timestamp is strictly newer, or
//   - the timestamps are equal and the quality differs, or
//   - it is an alive or comm-fault tag whose DAQ timestamp moved forward
//     while the source timestamp stayed put (liveness refresh).
//
// Equal timestamps with identical quality are rejected, even when the value
// differs. A candidate with no timestamp at all is always rejected once a
// timestamped value is cached.
//
// The source timestamp is used when set, otherwise the DAQ timestamp.
//
// Thread Safety: FlowPolicy is stateless and safe for concurrent use.
type FlowPolicy struct{}

// Accept reports whether candidate may replace current.
func (FlowPolicy) Accept(current, candidate *Tag) bool {
	if candidate == nil {
		return false
	}
	if current == nil {
		return true
	}
	ct := current.Timestamp()
	if ct.IsZero() {
		return true
	}
	nt := candidate.Timestamp()
	switch {
	case nt.IsZero():
		return false
	case nt.After(ct):
		return true
	case nt.Before(ct):
		return false
	}

	if !candidate.Quality.Equal(current.Quality) {
		return true
	}
	return candidate.IsLivenessSignal() && candidate.DAQTimestamp.After(current.DAQTimestamp)
}
