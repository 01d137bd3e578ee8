package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("MSGTO bob hello  there |x|")
	require.True(t, ok)
	assert.Equal(t, "MSGTO", cmd.Verb)
	assert.Equal(t, "bob", cmd.Next())
	assert.Equal(t, "hello  there |x|", cmd.Rest())
	assert.Equal(t, "", cmd.Next())
}

func TestParseCommandSkipsRepeatedSpaces(t *testing.T) {
	cmd, ok := ParseCommand("  LOGIN   alice   secret  \r")
	require.True(t, ok)
	assert.Equal(t, "LOGIN", cmd.Verb)
	assert.Equal(t, "alice", cmd.Next())
	assert.Equal(t, "secret", cmd.Next())
	assert.Equal(t, "", cmd.Next())
}

func TestParseCommandEmpty(t *testing.T) {
	for _, line := range []string{"", "   ", "\r"} {
		_, ok := ParseCommand(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestFormatList(t *testing.T) {
	got := FormatList("Friends", []string{"bob (ONLINE)", "carol (OFFLINE)"})
	assert.Equal(t, "=== Friends ===\n- bob (ONLINE)\n- carol (OFFLINE)\nTotal: 2\n", got)

	assert.Equal(t, "=== Friends ===\nTotal: 0\n", FormatList("Friends", nil))
}

func TestFramerPopsLinesInOrder(t *testing.T) {
	f := NewFramer(64)
	require.NoError(t, f.Append([]byte("LIST\nLOGOUT\nMSG hel")))

	line, ok := f.PopLine()
	require.True(t, ok)
	assert.Equal(t, "LIST", line)

	line, ok = f.PopLine()
	require.True(t, ok)
	assert.Equal(t, "LOGOUT", line)

	_, ok = f.PopLine()
	assert.False(t, ok)
	assert.Equal(t, len("MSG hel"), f.Pending())

	require.NoError(t, f.Append([]byte("lo\n")))
	line, ok = f.PopLine()
	require.True(t, ok)
	assert.Equal(t, "MSG hello", line)
	assert.Equal(t, 0, f.Pending())
}

func TestFramerOverflow(t *testing.T) {
	f := NewFramer(DefaultBufferSize)

	chunk := []byte(strings.Repeat("a", 1024))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.Append(chunk))
	}
	require.NoError(t, f.Append(chunk[:1023]), "size-1 bytes still fit")

	err := f.Append([]byte("\n"))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 4095, f.Pending())
}

func TestFramerTerminatedChunkCannotExceedCapacity(t *testing.T) {
	f := NewFramer(64)
	require.NoError(t, f.Append([]byte(strings.Repeat("a", 60))))

	err := f.Append([]byte(strings.Repeat("b", 40) + "\n"))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 60, f.Pending())

	_, ok := f.PopLine()
	assert.False(t, ok)
}

func TestFramerLongestLineFits(t *testing.T) {
	f := NewFramer(16)
	require.NoError(t, f.Append([]byte(strings.Repeat("x", 14))))
	require.NoError(t, f.Append([]byte("\n")))

	line, ok := f.PopLine()
	require.True(t, ok)
	assert.Len(t, line, 14)
}

func TestFramerTailAfterNewlineCounts(t *testing.T) {
	f := NewFramer(16)
	err := f.Append([]byte("ok\n" + strings.Repeat("y", 15)))
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 0, f.Pending())
}
