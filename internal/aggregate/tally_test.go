package aggregate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTallyKeepsFirstSeenOrder(t *testing.T) {
	var tl Tally
	tl.Add("b", 1)
	tl.Add("a", 2)
	tl.Add("b", 3)

	assert.Equal(t, []string{"b", "a"}, tl.Keys())
	assert.Equal(t, 4, tl.Get("b"))
	assert.Equal(t, 6, tl.Total())
	assert.True(t, tl.Has("a"))
	assert.False(t, tl.Has("c"))
	assert.Equal(t, 0, tl.Get("c"))
}

func TestTallyJSONPreservesOrder(t *testing.T) {
	var tl Tally
	tl.Add("zeta", 1)
	tl.Add("alpha", 2)

	out, err := json.Marshal(tl)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":2}`, string(out))

	var back Tally
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, tl.Entries(), back.Entries())

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &back))
}

func TestEmptyTallyMarshals(t *testing.T) {
	var tl Tally
	out, err := json.Marshal(tl)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(out))
	assert.Empty(t, tl.Entries())
}

func TestTallyReadsThroughReturnedValue(t *testing.T) {
	build := func() Tally {
		var tl Tally
		tl.Add("x", 2)
		return tl
	}
	assert.Equal(t, 2, build().Get("x"))
	assert.True(t, build().Has("x"))
	assert.Equal(t, 1, build().Len())
	assert.Equal(t, 2, build().Total())
	assert.Equal(t, []Entry{{Key: "x", Count: 2}}, build().Clone().Entries())
}
