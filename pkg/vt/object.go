// Package vt implements the ISO 11783-6 Virtual Terminal object pool,
// the upload client FSM, a passive state mirror, and server-side pool
// version storage. The object pool holds objects in one slice indexed
// by a map from object id to position, which generalizes
// from CANopen's {index,subindex} addressing to VT's flat object-id
// space with child-object references instead of sub-entries.
package vt

import (
	"encoding/binary"
	"fmt"
)

// ObjectType is one of the 48 VT object type tags (ISO 11783-6 Table
// A.1). Only the subset with structured bodies gets dedicated codecs;
// the rest round-trip as opaque bytes.
type ObjectType uint8

const (
	TypeWorkingSet ObjectType = 0
	TypeDataMask   ObjectType = 1
	TypeAlarmMask  ObjectType = 2
	TypeContainer  ObjectType = 3
	TypeSoftKeyMask ObjectType = 4
	TypeKey         ObjectType = 5
	TypeButton      ObjectType = 6
	TypeInputBoolean ObjectType = 7
	TypeInputString ObjectType = 8
	TypeInputNumber ObjectType = 9
	TypeInputList   ObjectType = 10
	TypeOutputString ObjectType = 11
	TypeOutputNumber ObjectType = 12
	TypeLine        ObjectType = 13
	TypeRectangle   ObjectType = 14
	TypeMacro       ObjectType = 25
	// Remaining types (picture graphic, fonts, polygon, pointer
	// variables, etc.) are carried as opaque bodies; this station never
	// needs to reinterpret their contents to route pool traffic.
)

// Object is one VT object: a numeric id, a type tag, an opaque body,
// and the ids of its children.
type Object struct {
	ID       uint16
	Type     ObjectType
	Body     []byte
	Children []uint16
}

// ErrInvalidPool is returned when a pool fails wire-format decoding.
var ErrInvalidPool = fmt.Errorf("vt: invalid object pool encoding")

// EncodeObject packs one object into its wire layout:
// [id LE][type][body-length LE][body...][children-count LE][child-ids...]
func EncodeObject(o Object) []byte {
	buf := make([]byte, 0, 5+len(o.Body)+2+2*len(o.Children))
	var idBytes [2]byte
	binary.LittleEndian.PutUint16(idBytes[:], o.ID)
	buf = append(buf, idBytes[:]...)
	buf = append(buf, byte(o.Type))

	var lenBytes [2]byte
	binary.LittleEndian.PutUint16(lenBytes[:], uint16(len(o.Body)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, o.Body...)

	var countBytes [2]byte
	binary.LittleEndian.PutUint16(countBytes[:], uint16(len(o.Children)))
	buf = append(buf, countBytes[:]...)
	for _, c := range o.Children {
		var cb [2]byte
		binary.LittleEndian.PutUint16(cb[:], c)
		buf = append(buf, cb[:]...)
	}
	return buf
}

// DecodeObject reads one object from the front of buf, returning the
// object and the number of bytes consumed. A declared body or child
// list overflowing buf fails with ErrInvalidPool.
func DecodeObject(buf []byte) (Object, int, error) {
	if len(buf) < 5 {
		return Object{}, 0, ErrInvalidPool
	}
	id := binary.LittleEndian.Uint16(buf[0:2])
	typ := ObjectType(buf[2])
	bodyLen := int(binary.LittleEndian.Uint16(buf[3:5]))
	offset := 5
	if offset+bodyLen > len(buf) {
		return Object{}, 0, ErrInvalidPool
	}
	body := append([]byte{}, buf[offset:offset+bodyLen]...)
	offset += bodyLen

	if offset+2 > len(buf) {
		return Object{}, 0, ErrInvalidPool
	}
	childCount := int(binary.LittleEndian.Uint16(buf[offset : offset+2]))
	offset += 2
	if offset+2*childCount > len(buf) {
		return Object{}, 0, ErrInvalidPool
	}
	children := make([]uint16, childCount)
	for i := 0; i < childCount; i++ {
		children[i] = binary.LittleEndian.Uint16(buf[offset : offset+2])
		offset += 2
	}

	return Object{ID: id, Type: typ, Body: body, Children: children}, offset, nil
}
