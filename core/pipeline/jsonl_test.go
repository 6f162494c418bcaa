package pipeline

import (
	"strings"
	"testing"

	"github.com/siherrmann/grounder/helper"
	"github.com/siherrmann/grounder/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTriplesJSONL(t *testing.T) {
	t.Run("Valid file with blank lines", func(t *testing.T) {
		input := `{"h": "Paris", "r": "capital of", "t": "France"}

{"h": "Berlin", "r": "capital_of", "t": "Germany"}
`
		triples, err := ReadTriplesJSONL(strings.NewReader(input))
		require.NoError(t, err)
		assert.Equal(t, []model.Triple{
			{H: "Paris", R: "capital of", T: "France"},
			{H: "Berlin", R: "capital_of", T: "Germany"},
		}, triples)
	})

	t.Run("Malformed line reports its number", func(t *testing.T) {
		input := "{\"h\": \"A\", \"r\": \"knows\", \"t\": \"B\"}\n{not json}\n"
		_, err := ReadTriplesJSONL(strings.NewReader(input))
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("Missing entity", func(t *testing.T) {
		_, err := ReadTriplesJSONL(strings.NewReader(`{"h": "A", "r": "knows"}`))
		assert.ErrorIs(t, err, helper.ErrInvalidArgument)
		assert.Contains(t, err.Error(), "line 1")
	})

	t.Run("Empty input", func(t *testing.T) {
		triples, err := ReadTriplesJSONL(strings.NewReader(""))
		require.NoError(t, err)
		assert.NotNil(t, triples)
		assert.Empty(t, triples)
	})
}
