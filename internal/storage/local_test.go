package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wavHeader is enough of a RIFF container for content sniffing.
var wavHeader = []byte("RIFF\x24\x00\x00\x00WAVEfmt ")

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	return NewLocal(t.TempDir())
}

func TestLocalPutReadDelete(t *testing.T) {
	l := newTestLocal(t)

	require.NoError(t, l.Put("tmp/a.txt", strings.NewReader("hello")))
	assert.True(t, l.Exists("tmp/a.txt"))

	rc, err := l.ReadStream("tmp/a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "hello", string(data))

	size, err := l.Size("tmp/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	require.NoError(t, l.Delete("tmp/a.txt"))
	assert.False(t, l.Exists("tmp/a.txt"))
}

func TestLocalDeleteMissingIsNoop(t *testing.T) {
	l := newTestLocal(t)
	assert.NoError(t, l.Delete("never/was.txt"))
}

func TestLocalMove(t *testing.T) {
	l := newTestLocal(t)
	require.NoError(t, l.Put("tmp/x.wav", strings.NewReader("data")))

	require.NoError(t, l.Move("tmp/x.wav", "audio/x.wav"))
	assert.False(t, l.Exists("tmp/x.wav"))
	assert.True(t, l.Exists("audio/x.wav"))
}

func TestLocalMoveMissingSource(t *testing.T) {
	l := newTestLocal(t)
	assert.Error(t, l.Move("tmp/ghost.wav", "audio/ghost.wav"))
}

func TestLocalMimeType(t *testing.T) {
	l := newTestLocal(t)

	require.NoError(t, l.Put("a.wav", strings.NewReader(string(wavHeader))))
	mime, err := l.MimeType("a.wav")
	require.NoError(t, err)
	assert.Equal(t, "audio/wave", mime)

	require.NoError(t, l.Put("b.mp3", strings.NewReader("ID3\x03\x00\x00\x00\x00\x00\x00")))
	mime, err = l.MimeType("b.mp3")
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", mime)

	// Charset suffix is stripped from text sniffs.
	require.NoError(t, l.Put("c.txt", strings.NewReader("just some words")))
	mime, err = l.MimeType("c.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mime)
}

func TestLocalExistsIgnoresDirectories(t *testing.T) {
	l := newTestLocal(t)
	require.NoError(t, l.Put("audio/a.wav", strings.NewReader("x")))
	assert.False(t, l.Exists("audio"))
}
