package task

import (
	"fmt"
	"path/filepath"
)

// Metadata is the stable identity of one task instance within a workflow
// run. Every derived name (function name, transfer keys, archive, working
// directory) is a pure function of this pair, which is the sole mechanism
// preventing cross-task interference between concurrent lifecycles.
type Metadata struct {
	DispatchID string
	NodeID     int
}

func (m Metadata) String() string {
	return fmt.Sprintf("%s-%d", m.DispatchID, m.NodeID)
}

// FunctionName is the remote function resource name.
func (m Metadata) FunctionName() string {
	return fmt.Sprintf("lambda-%s-%d", m.DispatchID, m.NodeID)
}

// FuncKey is the store key of the serialized task.
func (m Metadata) FuncKey() string {
	return fmt.Sprintf("func-%s-%d.pkl", m.DispatchID, m.NodeID)
}

// ResultKey is the store key of the serialized return value.
func (m Metadata) ResultKey() string {
	return fmt.Sprintf("result-%s-%d.pkl", m.DispatchID, m.NodeID)
}

// ExceptionKey is the store key of the remote exception description.
func (m Metadata) ExceptionKey() string {
	return fmt.Sprintf("exception-%s-%d.json", m.DispatchID, m.NodeID)
}

// ArchiveKey is the store key of the deployment archive.
func (m Metadata) ArchiveKey() string {
	return fmt.Sprintf("archive-%s-%d.zip", m.DispatchID, m.NodeID)
}

// Workdir is the per-dispatch scratch directory under root.
func (m Metadata) Workdir(root string) string {
	return filepath.Join(root, m.DispatchID)
}
