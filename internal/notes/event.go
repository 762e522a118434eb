package notes

import "fmt"

// Op is the kind of raw watcher callback an Event carries.
type Op uint8

const (
	OpAdd Op = iota + 1
	OpChange
	OpRename
	OpUnlink
)

// String returns a human-readable representation of the operation.
func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpChange:
		return "change"
	case OpRename:
		return "rename"
	case OpUnlink:
		return "unlink"
	default:
		return "unknown"
	}
}

// Event is one raw watcher callback captured at arrival time. NextPath is
// only set for OpRename.
type Event struct {
	Op       Op
	Path     string
	NextPath string
}

func (e Event) String() string {
	if e.Op == OpRename {
		return fmt.Sprintf("%s %s -> %s", e.Op, e.Path, e.NextPath)
	}
	return fmt.Sprintf("%s %s", e.Op, e.Path)
}
