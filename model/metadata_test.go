package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataScan(t *testing.T) {
	t.Run("Scan from JSON bytes", func(t *testing.T) {
		var m Metadata
		err := m.Scan([]byte(`{"chunk_index": 3, "source": "kjv.txt"}`))
		require.NoError(t, err)
		assert.Equal(t, "kjv.txt", m["source"])
		assert.Equal(t, float64(3), m["chunk_index"])
	})

	t.Run("Scan from nil gives empty metadata", func(t *testing.T) {
		var m Metadata
		require.NoError(t, m.Scan(nil))
		assert.NotNil(t, m)
		assert.Empty(t, m)
	})

	t.Run("Scan from unsupported type fails", func(t *testing.T) {
		var m Metadata
		err := m.Scan(42)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported type int")
	})
}

func TestMetadataValue(t *testing.T) {
	t.Run("Nil metadata is stored as an empty object", func(t *testing.T) {
		var m Metadata
		v, err := m.Value()
		require.NoError(t, err)
		assert.Equal(t, []byte("{}"), v)
	})
}
