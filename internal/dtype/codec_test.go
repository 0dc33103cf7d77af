package dtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/typevault/pkg/types"
)

func TestEncodeDecodePreservesStructure(t *testing.T) {
	for _, want := range sampleTypes(t) {
		data, err := Encode(want)
		require.NoError(t, err, "%s", want)

		got, err := Decode(data)
		require.NoError(t, err, "%s", want)
		assert.True(t, Equal(want, got), "%s decoded as %s", want, got)
		assert.Equal(t, want.ForceConversion(), got.ForceConversion())
		assert.Equal(t, StateTransient, got.State())
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "{"},
		{name: "unknown class", data: `{"class":"quaternion","size":16}`},
		{name: "enum without base", data: `{"class":"enum","size":4}`},
		{name: "zero size", data: `{"class":"integer","size":0}`},
		{name: "negative member size", data: `{"class":"compound","size":8,"members":[{"name":"a","offset":0,"type":{"class":"integer","size":-4}}]}`},
		{name: "truncated enum value", data: `{"class":"enum","size":4,"parent":{"class":"integer","size":4},"values":[{"name":"a","value":"AQ=="}]}`},
		{name: "enum wider than base", data: `{"class":"enum","size":8,"parent":{"class":"integer","size":4}}`},
		{name: "enum over float", data: `{"class":"enum","size":4,"parent":{"class":"float","size":4}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, types.ErrInvalid)
		})
	}
}
