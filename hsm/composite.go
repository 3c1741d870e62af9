package hsm

import (
	"github.com/ardnew/softrpmi/pkg"
)

// Composite is a non-leaf HSM aggregating child instances into a
// single dense hart-index space. Children keep their own ordering:
// child 0 owns indices [0, c0), child 1 owns [c0, c0+c1), and so on.
// The composite does not own its children; callers remain responsible
// for their lifetime.
type Composite struct {
	children []HSM
	count    uint32
}

// NewComposite wires child HSM instances into a composite. Every
// child must expose an identical suspend-type list (same count and,
// per entry, the same type value, flags, and latency/residency
// values); heterogeneous clusters are rejected.
func NewComposite(children ...HSM) (*Composite, error) {
	if len(children) == 0 {
		return nil, pkg.ErrInvalidParam
	}

	var count uint32
	for _, child := range children {
		if child == nil {
			return nil, pkg.ErrInvalidParam
		}
		count += child.HartCount()
	}

	for _, child := range children[1:] {
		if !equalSuspendTypes(children[0], child) {
			pkg.LogWarn(pkg.ComponentHSM,
				"composite rejected: children disagree on suspend types")
			return nil, pkg.ErrInvalidParam
		}
	}

	return &Composite{children: children, count: count}, nil
}

// childFor returns the child owning the given composite hart index
// together with the base of that child's index range.
func (c *Composite) childFor(index uint32) (HSM, uint32, bool) {
	var base uint32
	for _, child := range c.children {
		n := child.HartCount()
		if index < base+n {
			return child, base, true
		}
		base += n
	}
	return nil, 0, false
}

// childForID returns the child owning the given hart ID.
func (c *Composite) childForID(id uint32) (HSM, bool) {
	for _, child := range c.children {
		if _, ok := child.HartIDToIndex(id); ok {
			return child, true
		}
	}
	return nil, false
}

// HartCount returns the total hart count over all children.
func (c *Composite) HartCount() uint32 {
	return c.count
}

// HartIndexToID maps a composite hart index to its hart ID.
func (c *Composite) HartIndexToID(index uint32) (uint32, bool) {
	child, base, ok := c.childFor(index)
	if !ok {
		return 0, false
	}
	return child.HartIndexToID(index - base)
}

// HartIDToIndex maps a hart ID to its composite hart index.
func (c *Composite) HartIDToIndex(id uint32) (uint32, bool) {
	var base uint32
	for _, child := range c.children {
		if local, ok := child.HartIDToIndex(id); ok {
			return base + local, true
		}
		base += child.HartCount()
	}
	return 0, false
}

// SuspendTypeCount returns the suspend-type count of the first child;
// construction guarantees all children agree.
func (c *Composite) SuspendTypeCount() uint32 {
	return c.children[0].SuspendTypeCount()
}

// SuspendTypeAt returns the suspend type at index from the first
// child.
func (c *Composite) SuspendTypeAt(index uint32) *SuspendType {
	return c.children[0].SuspendTypeAt(index)
}

// FindSuspendType returns the suspend type with the given wire value
// from the first child.
func (c *Composite) FindSuspendType(value uint32) *SuspendType {
	return c.children[0].FindSuspendType(value)
}

// HartStart forwards to the child owning the hart.
func (c *Composite) HartStart(hartID uint32, startAddr uint64) pkg.Status {
	child, ok := c.childForID(hartID)
	if !ok {
		return pkg.StatusInvalidParam
	}
	return child.HartStart(hartID, startAddr)
}

// HartStop forwards to the child owning the hart.
func (c *Composite) HartStop(hartID uint32) pkg.Status {
	child, ok := c.childForID(hartID)
	if !ok {
		return pkg.StatusInvalidParam
	}
	return child.HartStop(hartID)
}

// HartSuspend forwards to the child owning the hart. The suspend type
// is resolved against the child's own list so the child records its
// own descriptor.
func (c *Composite) HartSuspend(hartID uint32, suspendType *SuspendType, resumeAddr uint64) pkg.Status {
	if suspendType == nil {
		return pkg.StatusInvalidParam
	}
	child, ok := c.childForID(hartID)
	if !ok {
		return pkg.StatusInvalidParam
	}
	local := child.FindSuspendType(suspendType.Type)
	if local == nil {
		return pkg.StatusInvalidParam
	}
	return child.HartSuspend(hartID, local, resumeAddr)
}

// State forwards to the child owning the hart.
func (c *Composite) State(hartID uint32) (HartState, pkg.Status) {
	child, ok := c.childForID(hartID)
	if !ok {
		return 0, pkg.StatusInvalidParam
	}
	return child.State(hartID)
}

// ProcessStateChanges reconciles every child.
func (c *Composite) ProcessStateChanges() {
	for _, child := range c.children {
		child.ProcessStateChanges()
	}
}
