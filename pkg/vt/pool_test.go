package vt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectEncodeDecodeRoundTrip(t *testing.T) {
	in := Object{
		ID:       0x1234,
		Type:     TypeButton,
		Body:     []byte{0xDE, 0xAD, 0xBE, 0xEF},
		Children: []uint16{1, 2, 0xFFFE},
	}
	out, n, err := DecodeObject(EncodeObject(in))
	require.NoError(t, err)
	assert.Equal(t, len(EncodeObject(in)), n)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Body, out.Body)
	assert.Equal(t, in.Children, out.Children)
}

func TestDecodeObjectTruncatedBody(t *testing.T) {
	enc := EncodeObject(Object{ID: 1, Type: TypeContainer, Body: []byte{1, 2, 3}})
	_, _, err := DecodeObject(enc[:6])
	assert.ErrorIs(t, err, ErrInvalidPool)
}

func TestDecodeObjectTruncatedChildList(t *testing.T) {
	enc := EncodeObject(Object{ID: 1, Type: TypeContainer, Children: []uint16{7, 8}})
	_, _, err := DecodeObject(enc[:len(enc)-1])
	assert.ErrorIs(t, err, ErrInvalidPool)
}

func TestPoolSerializeDeserializeRoundTrip(t *testing.T) {
	pool := NewPool("POOL001", []Object{
		{ID: 0, Type: TypeWorkingSet, Children: []uint16{1, 2}},
		{ID: 1, Type: TypeDataMask, Children: []uint16{3}},
		{ID: 2, Type: TypeSoftKeyMask},
		{ID: 3, Type: TypeOutputNumber, Body: []byte{0x10, 0x20}},
	})
	require.NoError(t, pool.Validate())

	back, err := DeserializePool("POOL001", pool.Serialize())
	require.NoError(t, err)
	require.NoError(t, back.Validate())
	assert.Equal(t, pool.Serialize(), back.Serialize())
	assert.Len(t, back.Objects(), 4)
}

func TestPoolValidateFirstViolation(t *testing.T) {
	cases := []struct {
		name    string
		objects []Object
	}{
		{"no working set", []Object{{ID: 1, Type: TypeDataMask}}},
		{"two working sets", []Object{
			{ID: 0, Type: TypeWorkingSet, Children: []uint16{2}},
			{ID: 1, Type: TypeWorkingSet},
			{ID: 2, Type: TypeDataMask},
		}},
		{"duplicate id", []Object{
			{ID: 0, Type: TypeWorkingSet, Children: []uint16{0}},
			{ID: 0, Type: TypeDataMask},
		}},
		{"orphan child", []Object{
			{ID: 0, Type: TypeWorkingSet, Children: []uint16{1, 99}},
			{ID: 1, Type: TypeDataMask},
		}},
		{"working set without mask child", []Object{
			{ID: 0, Type: TypeWorkingSet, Children: []uint16{1}},
			{ID: 1, Type: TypeContainer},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewPool("POOL001", tc.objects).Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}
