package heap

import (
	"encoding/binary"

	"github.com/vmti/pkg/vm"
)

type indexedField struct {
	index     int
	declaring vm.ObjectID
	field     *vm.Field
}

// fieldMaps caches the field index layout per class for one traversal.
//
// A class's fields are numbered with its own declared fields first, then those of its
// superinterfaces, then the superclass chain, each recursively in the same order. Static
// and instance fields share the index space.
type fieldMaps struct {
	model  vm.ObjectModel
	layout map[vm.ObjectID][]indexedField
}

func newFieldMaps(model vm.ObjectModel) *fieldMaps {
	return &fieldMaps{model: model, layout: make(map[vm.ObjectID][]indexedField)}
}

func (m *fieldMaps) of(class vm.ObjectID) []indexedField {
	if l, ok := m.layout[class]; ok {
		return l
	}
	var out []indexedField
	seen := make(map[vm.ObjectID]bool)
	var walk func(id vm.ObjectID)
	walk = func(id vm.ObjectID) {
		if id == vm.Null || seen[id] {
			return
		}
		seen[id] = true
		c, ok := m.model.Class(id)
		if !ok {
			return
		}
		for i := range c.Fields {
			out = append(out, indexedField{index: len(out), declaring: id, field: &c.Fields[i]})
		}
		for _, iface := range c.Interfaces {
			walk(iface)
		}
		walk(c.Super)
	}
	walk(class)
	m.layout[class] = out
	return out
}

// instance returns the instance fields an object of class carries.
func (m *fieldMaps) instance(class vm.ObjectID) []indexedField {
	var out []indexedField
	for _, f := range m.of(class) {
		if !f.field.Static {
			out = append(out, f)
		}
	}
	return out
}

// statics returns the static fields declared by class itself.
func (m *fieldMaps) statics(class vm.ObjectID) []indexedField {
	var out []indexedField
	for _, f := range m.of(class) {
		if f.field.Static && f.declaring == class {
			out = append(out, f)
		}
	}
	return out
}

// encodeElements copies primitive array elements big-endian.
func encodeElements(t vm.BasicType, elems []vm.Value) []byte {
	size := t.Size()
	buf := make([]byte, size*len(elems))
	for i, v := range elems {
		b := buf[i*size:]
		switch size {
		case 1:
			b[0] = byte(v.Bits)
		case 2:
			binary.BigEndian.PutUint16(b, uint16(v.Bits))
		case 4:
			binary.BigEndian.PutUint32(b, uint32(v.Bits))
		case 8:
			binary.BigEndian.PutUint64(b, v.Bits)
		}
	}
	return buf
}
