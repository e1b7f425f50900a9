// Package replication supplements the per-entry replication metadata the
// layout planner accounts for (spec's ADDITIONAL_ENTRY_BYTES, added to
// every entry's footprint when Replicated is set) with the minimal runtime
// surface that metadata exists for: timestamping an operation, attributing
// it to the node that made it, and handing it to a Broadcaster.
//
// The actual replication transport is explicitly out of scope here, as it
// is for the layout planner itself — Broadcaster is a seam a real
// transport would implement, not a transport.
package replication

// EntryMeta is the per-entry replication header: an 8-byte timestamp and
// a 4-byte node identifier, matching internal/sizing.AdditionalEntryBytes.
type EntryMeta struct {
	Timestamp int64
	NodeID    uint32
}

// OpKind distinguishes the three mutations replication needs to propagate.
type OpKind int

const (
	OpPut OpKind = iota
	OpRemove
	OpUpdate
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpRemove:
		return "remove"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Op is a single replicated mutation: which segment it touched,
// what kind of change it was, and the metadata that went with it.
type Op struct {
	Kind    OpKind
	Segment int
	Meta    EntryMeta
	Key     []byte
	Value   []byte // nil for OpRemove
}

// Broadcaster is the seam a real replication transport implements.
// Publish is called synchronously by the map handle after the segment
// lock covering the mutation has been released, so a slow or blocking
// Broadcaster never holds up other operations on that segment. A non-nil
// error is returned from the Put, Remove or Compute call that triggered
// it; the local mutation has already been applied by then.
type Broadcaster interface {
	Publish(Op) error
}

// Local is a Broadcaster that does nothing — the map handle's default
// when replication is enabled but no transport has been wired in, or when
// running single-node.
type Local struct{}

func (Local) Publish(Op) error { return nil }
