package kvs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultString(t *testing.T) {
	assert.Equal(t, "success", ResultSuccess.String())
	assert.Equal(t, "key does not exist", ResultKeyNotExist.String())
	assert.Equal(t, "result(0xff)", Result(0xff).String())
	assert.True(t, ResultSuccess.OK())
	assert.False(t, ResultBufferSmall.OK())
}

func TestResultAsError(t *testing.T) {
	require.NoError(t, ResultSuccess.AsError("store"))

	err := ResultIOError.AsError("store")
	var rerr *ResultError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ResultIOError, rerr.Result)
	assert.Equal(t, "kvs: store: device i/o error", err.Error())
}

func TestOpKindString(t *testing.T) {
	assert.Equal(t, "store", OpStore.String())
	assert.Equal(t, "iterate_next", OpIterNext.String())
	assert.Equal(t, "op(9)", OpKind(9).String())
}

func TestFilterMatch(t *testing.T) {
	f := IteratorFilter{
		BitMask:    [4]byte{0xff, 0xff, 0x00, 0x00},
		BitPattern: [4]byte{'0', '0', '0', '0'},
	}

	tests := []struct {
		key  string
		want bool
	}{
		{"0000abc", true},
		{"00", true},
		{"00zz", true},
		{"01zz", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Match([]byte(tt.key)), "key %q", tt.key)
	}

	var all IteratorFilter
	assert.True(t, all.Match([]byte("anything")), "zero mask matches every key")
}
