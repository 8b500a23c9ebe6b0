package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalNoEscape(t *testing.T) {
	out, err := MarshalNoEscape(map[string]string{"message": "<b>a & b</b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"message":"<b>a & b</b>"}`, string(out))
}
