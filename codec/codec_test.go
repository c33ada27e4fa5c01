package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/brettbedarf/memfs/filesystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildStore makes a small connected tree with one node of every kind.
func buildStore(t *testing.T, fileData []byte, childName, target string) *filesystem.Store {
	t.Helper()
	s := filesystem.NewStore()
	s.Put("/docs", filesystem.NewDir("docs"))
	require.NoError(t, s.Link("/", "docs"))
	s.Put("/docs/a.txt", filesystem.NewFile("a.txt", fileData))
	require.NoError(t, s.Link("/docs", "a.txt"))
	s.Put("/docs/"+childName, filesystem.NewFile(childName, nil))
	require.NoError(t, s.Link("/docs", childName))
	s.Put("/link", filesystem.NewSymlink("link", target))
	require.NoError(t, s.Link("/", "link"))
	return s
}

func encode(t *testing.T, s *filesystem.Store) (files, dirs, links *bytes.Buffer) {
	t.Helper()
	files, dirs, links = &bytes.Buffer{}, &bytes.Buffer{}, &bytes.Buffer{}
	require.NoError(t, Encode(s, files, dirs, links))
	return
}

func TestEncode_LegacyLayout(t *testing.T) {
	t.Parallel()

	s := buildStore(t, []byte("hi"), "b.txt", "/docs/a.txt")
	files, dirs, links := encode(t, s)

	assert.Equal(t, "/docs/a.txt\nhi\n/docs/b.txt\n\n", files.String())
	assert.Equal(t, "/\ndocs?link?\n/docs\na.txt?b.txt?\n", dirs.String())
	assert.Equal(t, "/link\n/docs/a.txt\n", links.String())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		data      []byte
		childName string
		target    string
	}{
		{"plain", []byte("hello world"), "b.txt", "/docs/a.txt"},
		{"newline_in_content", []byte("line1\nline2\n"), "b.txt", "/docs/a.txt"},
		{"carriage_return_and_backslash", []byte("a\\b\r\nc\\n"), "b.txt", "/docs/a.txt"},
		{"separator_in_child_name", []byte("x"), "what?.txt", "/docs/what?.txt"},
		{"backslash_in_child_name", []byte("x"), `b\?c`, "/nowhere"},
		{"binary", []byte{0, 1, 2, 255, '\n', '?'}, "b.bin", "/docs/b.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			orig := buildStore(t, tt.data, tt.childName, tt.target)
			files, dirs, links := encode(t, orig)

			decoded, err := Decode(files, dirs, links)
			require.NoError(t, err)

			assert.Equal(t, orig, decoded)
			assert.Empty(t, decoded.Orphans())
		})
	}
}

func TestDecode_NilStreamsYieldRootOnly(t *testing.T) {
	t.Parallel()

	s, err := Decode(nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"/"}, s.Paths())
	root, ok := s.Get("/")
	require.True(t, ok)
	assert.Equal(t, filesystem.KindDir, root.Kind())
	assert.Equal(t, "", root.Name())
}

func TestDecode_LastStreamWins(t *testing.T) {
	t.Parallel()

	files := strings.NewReader("/x\ncontent\n")
	dirs := strings.NewReader("/\nx?\n/x\n\n")
	links := strings.NewReader("/x\n/target\n")

	s, err := Decode(files, dirs, links)
	require.NoError(t, err)

	n, ok := s.Get("/x")
	require.True(t, ok)
	link, ok := n.(*filesystem.Symlink)
	require.True(t, ok, "links stream is decoded last")
	assert.Equal(t, "/target", link.Target)
	assert.Equal(t, "x", link.Name())
}

func TestDecode_LegacyChildrenTrailingText(t *testing.T) {
	t.Parallel()

	s, err := Decode(nil, strings.NewReader("/\na?b?dangling\n"), nil)
	require.NoError(t, err)

	root, _ := s.Get("/")
	assert.Equal(t, []string{"a", "b"}, root.(*filesystem.Dir).Children)
}

func TestDecode_LegacyBackslashIsUnescaped(t *testing.T) {
	t.Parallel()

	// a legacy writer stored backslashes verbatim
	s, err := Decode(strings.NewReader("/f\nC:\\new\n"), nil, nil)
	require.NoError(t, err)

	n, ok := s.Get("/f")
	require.True(t, ok)
	assert.Equal(t, []byte("C:\n"+"ew"), n.(*filesystem.File).Data, `the stored "\n" is read as an escape`)
}

func TestDecode_MissingPayload(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.NewReader("/a\nx\n/b\n"), nil, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "files stream")
	assert.Contains(t, err.Error(), `"/b"`)
}

func TestDecode_LargeLine(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("z", 200*1024)
	s, err := Decode(strings.NewReader("/big\n"+big+"\n"), nil, nil)
	require.NoError(t, err)

	n, ok := s.Get("/big")
	require.True(t, ok)
	assert.Len(t, n.(*filesystem.File).Data, len(big))
}

func TestEscape(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain", escape("plain", false))
	assert.Equal(t, `a\nb\\c?`, escape("a\nb\\c?", false))
	assert.Equal(t, `a\?b`, escape("a?b", true))
	assert.Equal(t, "a\nb\\c?", unescape(`a\nb\\c?`))
	assert.Equal(t, []string{"a?b", "c"}, splitChildren(`a\?b?c?`))
}
