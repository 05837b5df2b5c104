package vt

import "fmt"

// Pool is an ordered object-pool plus its 7-character version label,
// kept as one slice of objects plus an id→index map over VT's flat
// object-id space.
type Pool struct {
	Label   [7]byte
	objects []Object
	index   map[uint16]int
}

// NewPool builds a Pool from an ordered object list; serialization
// preserves insertion order.
func NewPool(label string, objects []Object) *Pool {
	p := &Pool{objects: objects, index: make(map[uint16]int, len(objects))}
	copy(p.Label[:], label)
	for i, o := range objects {
		p.index[o.ID] = i
	}
	return p
}

// Get looks up an object by id.
func (p *Pool) Get(id uint16) (Object, bool) {
	i, ok := p.index[id]
	if !ok {
		return Object{}, false
	}
	return p.objects[i], true
}

// Objects returns every object in insertion order.
func (p *Pool) Objects() []Object {
	return p.objects
}

// ValidationError names the first invariant a pool violates.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("vt: pool validation: %s", e.Reason) }

// Validate enforces the four pool invariants: exactly one
// Working-Set, the Working-Set references at least one Data-Mask or
// Alarm-Mask child, every child-id resolves to an existing object, and
// object-ids are unique.
func (p *Pool) Validate() error {
	seen := make(map[uint16]bool, len(p.objects))
	var workingSets []Object
	for _, o := range p.objects {
		if seen[o.ID] {
			return &ValidationError{Reason: fmt.Sprintf("duplicate object id %d", o.ID)}
		}
		seen[o.ID] = true
		if o.Type == TypeWorkingSet {
			workingSets = append(workingSets, o)
		}
	}

	if len(workingSets) != 1 {
		return &ValidationError{Reason: fmt.Sprintf("expected exactly one working set, found %d", len(workingSets))}
	}

	for _, o := range p.objects {
		for _, childID := range o.Children {
			if !seen[childID] {
				return &ValidationError{Reason: fmt.Sprintf("object %d references nonexistent child %d", o.ID, childID)}
			}
		}
	}

	ws := workingSets[0]
	hasMaskChild := false
	for _, childID := range ws.Children {
		child, ok := p.Get(childID)
		if ok && (child.Type == TypeDataMask || child.Type == TypeAlarmMask) {
			hasMaskChild = true
			break
		}
	}
	if !hasMaskChild {
		return &ValidationError{Reason: "working set has no data-mask or alarm-mask child"}
	}

	return nil
}

// Serialize concatenates every object's wire encoding in insertion
// order.
func (p *Pool) Serialize() []byte {
	var out []byte
	for _, o := range p.objects {
		out = append(out, EncodeObject(o)...)
	}
	return out
}

// DeserializePool reconstructs a pool from its serialized bytes,
// decoding one object at a time until the buffer is exhausted.
func DeserializePool(label string, buf []byte) (*Pool, error) {
	var objects []Object
	for len(buf) > 0 {
		o, n, err := DecodeObject(buf)
		if err != nil {
			return nil, err
		}
		objects = append(objects, o)
		buf = buf[n:]
	}
	return NewPool(label, objects), nil
}
