package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestTrimStripsASCIIWhitespace checks leading/trailing ASCII whitespace is
// removed while interior whitespace survives.
func TestTrimStripsASCIIWhitespace(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  hello  ", "hello"},
		{"\t\nhello\r\v\f", "hello"},
		{"hello", "hello"},
		{"", ""},
		{"   ", ""},
		{"no trailing", "no trailing"},
		{"  inner  space  ", "inner  space"},
	}
	for _, c := range cases {
		require.Equalf(t, c.want, Trim(c.in), "input %q", c.in)
	}
}
