package capability

// CompositeMode fixes the semantics of a composite at construction.
type CompositeMode string

const (
	// ModeAll requires every child to permit a request. An empty All
	// composite permits everything.
	ModeAll CompositeMode = "all"

	// ModeAny requires at least one child to permit a request. An empty
	// Any composite denies everything.
	ModeAny CompositeMode = "any"
)

// Composite combines an ordered sequence of children under All or Any
// semantics.
type Composite struct {
	children []Capability
	mode     CompositeMode
}

// NewComposite creates a composite capability. The mode is fixed for
// the composite's lifetime.
func NewComposite(mode CompositeMode, children ...Capability) *Composite {
	owned := make([]Capability, len(children))
	copy(owned, children)
	return &Composite{children: owned, mode: mode}
}

// Kind implements Capability.
func (c *Composite) Kind() Kind { return KindComposite }

// Mode returns the composite's semantics.
func (c *Composite) Mode() CompositeMode { return c.mode }

// Children returns the child capabilities in order.
func (c *Composite) Children() []Capability {
	out := make([]Capability, len(c.children))
	copy(out, c.children)
	return out
}

// Permits implements Capability. All requires every child to permit;
// Any requires some child to permit and, on deny, reports the last
// child's denial reason.
//
// For file requests under All, each file child checks the projection of
// the request onto the operations that child governs: a read child and
// a write child together permit a read+write request, while a request
// that leaves some child without a share is denied.
func (c *Composite) Permits(req AccessRequest) error {
	switch c.mode {
	case ModeAll:
		if file, ok := req.(FileRequest); ok {
			return c.permitsAllFile(file)
		}
		for _, child := range c.children {
			if err := child.Permits(req); err != nil {
				return err
			}
		}
		return nil
	default: // ModeAny
		var lastErr error
		for _, child := range c.children {
			if err := child.Permits(req); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
		if lastErr == nil {
			lastErr = denied("empty composite permits nothing")
		}
		return lastErr
	}
}

func (c *Composite) permitsAllFile(req FileRequest) error {
	coveredRead, coveredWrite, coveredExecute := false, false, false
	for _, child := range c.children {
		f, ok := child.(*File)
		if !ok {
			if err := child.Permits(req); err != nil {
				return err
			}
			coveredRead, coveredWrite, coveredExecute = true, true, true
			continue
		}
		projected := FileRequest{
			Path:    req.Path,
			Read:    req.Read && f.CanRead(),
			Write:   req.Write && f.CanWrite(),
			Execute: req.Execute && f.CanExecute(),
		}
		if !projected.Read && !projected.Write && !projected.Execute {
			return denied("request exercises none of a required child's operations")
		}
		if err := f.Permits(projected); err != nil {
			return err
		}
		coveredRead = coveredRead || projected.Read
		coveredWrite = coveredWrite || projected.Write
		coveredExecute = coveredExecute || projected.Execute
	}
	if req.Read && !coveredRead && len(c.children) > 0 {
		return denied("read access to %s not granted by any child", req.Path)
	}
	if req.Write && !coveredWrite && len(c.children) > 0 {
		return denied("write access to %s not granted by any child", req.Path)
	}
	if req.Execute && !coveredExecute && len(c.children) > 0 {
		return denied("execute access to %s not granted by any child", req.Path)
	}
	return nil
}

// Constrain implements Capability. Children that cannot be constrained
// are skipped; an empty result fails with a ConstraintError.
func (c *Composite) Constrain(constraints Constraints) (Capability, error) {
	constrained := make([]Capability, 0, len(c.children))
	for _, child := range c.children {
		next, err := child.Constrain(constraints)
		if err != nil {
			continue
		}
		constrained = append(constrained, next)
	}
	if len(constrained) == 0 && len(c.children) > 0 {
		return nil, &ConstraintError{Detail: "no child of the composite could be constrained"}
	}
	return &Composite{children: constrained, mode: c.mode}, nil
}

// Split implements Capability: the concatenation of every child's split.
func (c *Composite) Split() []Capability {
	if len(c.children) == 0 {
		return []Capability{NewComposite(c.mode)}
	}
	var out []Capability
	for _, child := range c.children {
		out = append(out, child.Split()...)
	}
	return out
}

// Join implements Capability. Joining with another composite requires
// matching modes; joining with a leaf appends it as a child.
func (c *Composite) Join(other Capability) (Capability, error) {
	if o, ok := other.(*Composite); ok {
		if o.mode != c.mode {
			return nil, &CompositionError{Detail: "cannot join composites with mismatched modes"}
		}
		return NewComposite(c.mode, append(c.Children(), o.Children()...)...), nil
	}
	return NewComposite(c.mode, append(c.Children(), other)...), nil
}

// Equal implements Capability.
func (c *Composite) Equal(other Capability) bool {
	o, ok := other.(*Composite)
	if !ok || o.mode != c.mode || len(o.children) != len(c.children) {
		return false
	}
	for i, child := range c.children {
		if !child.Equal(o.children[i]) {
			return false
		}
	}
	return true
}

func (*Composite) sealedCapability() {}
