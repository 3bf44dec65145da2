package gitkv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{".", ""},
		{"a", "a"},
		{"/a/b", "a/b"},
		{"a//b", "a/b"},
		{"./a", "a"},
		{"a/./b", "a/b"},
		{"../a", "a"},
		{"a/../../b", "a/b"},
		{"..", ""},
	}
	for _, c := range cases {
		require.Equal(t, c.want, cleanPath(c.in), "cleanPath(%q)", c.in)
	}
}

func TestIsRootPath(t *testing.T) {
	require.True(t, isRootPath(""))
	require.True(t, isRootPath("/"))
	require.True(t, isRootPath("."))
	require.False(t, isRootPath("a"))
	require.False(t, isRootPath("/a"))
}
