package index

// OpKind distinguishes the three sync operation variants.
type OpKind int

const (
	// OpAdd introduces a file the target side does not have.
	OpAdd OpKind = iota + 1
	// OpUpdate replaces a file whose digest differs on the target side.
	OpUpdate
	// OpDelete removes a file from the target side.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one desired state change derived by diffing two snapshots. Ops carry
// no identity beyond their payload: they are idempotent descriptions of a
// target end state, not a mutation log.
type Op struct {
	Kind OpKind `json:"kind"`
	// Record is the file metadata for Add and Update; zero for Delete.
	Record FileRecord `json:"record,omitempty"`
	// Path is the relative path for Delete; for Add/Update it mirrors
	// Record.Path.
	Path string `json:"path"`
}

// AddOp builds an Add operation for the given record.
func AddOp(rec FileRecord) Op {
	return Op{Kind: OpAdd, Record: rec, Path: rec.Path}
}

// UpdateOp builds an Update operation for the given record.
func UpdateOp(rec FileRecord) Op {
	return Op{Kind: OpUpdate, Record: rec, Path: rec.Path}
}

// DeleteOp builds a Delete operation for the given path.
func DeleteOp(path string) Op {
	return Op{Kind: OpDelete, Path: path}
}

// Diff compares two snapshots of the same root and returns one operation per
// differing path: Add for paths only in next, Update for digest changes,
// Delete for paths only in prev. The result is a set, not a log; callers must
// not assume ordering reflects the temporal order of the underlying changes.
func Diff(prev, next *Snapshot) []Op {
	var ops []Op

	for path, rec := range next.Files {
		old, ok := prev.Files[path]
		switch {
		case !ok:
			ops = append(ops, AddOp(rec))
		case old.Digest != rec.Digest:
			ops = append(ops, UpdateOp(rec))
		}
	}

	for path := range prev.Files {
		if _, ok := next.Files[path]; !ok {
			ops = append(ops, DeleteOp(path))
		}
	}

	return ops
}
