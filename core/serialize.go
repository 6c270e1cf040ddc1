package core

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Binary tensor layout: [rank(2)][dims(8*rank)][count(4)][data(8*count)],
// little endian throughout.

// SerializeTensor writes a Tensor to a byte slice in binary form.
func SerializeTensor(t *Tensor) ([]byte, error) {
	if t == nil {
		return nil, errors.New("core: cannot serialize nil tensor")
	}
	buf := &bytes.Buffer{}

	if err := binary.Write(buf, binary.LittleEndian, uint16(len(t.Shape))); err != nil {
		return nil, err
	}
	for _, d := range t.Shape {
		if err := binary.Write(buf, binary.LittleEndian, int64(d)); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(buf, binary.LittleEndian, uint32(len(t.Data))); err != nil {
		return nil, err
	}
	for _, v := range t.Data {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DeserializeTensor reads a Tensor from a byte slice.
func DeserializeTensor(b []byte) (*Tensor, error) {
	buf := bytes.NewReader(b)

	var rank uint16
	if err := binary.Read(buf, binary.LittleEndian, &rank); err != nil {
		return nil, err
	}
	shape := make(Shape, rank)
	for i := range shape {
		var d int64
		if err := binary.Read(buf, binary.LittleEndian, &d); err != nil {
			return nil, err
		}
		shape[i] = int(d)
	}

	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if int(count) != shape.Numel() {
		return nil, errors.Errorf("core: serialized element count %d does not fill shape %s", count, shape)
	}
	t := NewTensor(shape)
	for i := range t.Data {
		if err := binary.Read(buf, binary.LittleEndian, &t.Data[i]); err != nil {
			return nil, err
		}
	}

	return t, nil
}
