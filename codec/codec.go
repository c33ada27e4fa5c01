// Package codec serializes a [filesystem.Store] to three line-oriented text
// streams, one per node kind, and rebuilds a store from them.
//
// Every record is a pair of lines: the absolute path, then the payload.
//
//	files: raw content
//	dirs:  each child name followed by '?'
//	links: target path
//
// Payload bytes that would break the framing ('\\', '\n', '\r' and, inside a
// child name, '?') are backslash escaped. Payloads without them encode
// exactly like the unescaped legacy format. Decoding always unescapes, so a
// legacy stream round-trips byte-for-byte only if it holds no '\\'; a
// legacy payload such as `C:\new` decodes with "\n" read as a newline.
package codec

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/brettbedarf/memfs/filesystem"
)

// ChildSep terminates each child name in the dirs stream.
const ChildSep = '?'

// Stream names a node kind's stream, for error messages.
type Stream string

const (
	FilesStream Stream = "files"
	DirsStream  Stream = "dirs"
	LinksStream Stream = "links"
)

// Encode writes every node of s to the stream matching its kind, ordered by
// path.
func Encode(s *filesystem.Store, files, dirs, links io.Writer) error {
	fw := bufio.NewWriter(files)
	dw := bufio.NewWriter(dirs)
	lw := bufio.NewWriter(links)

	for _, p := range s.Paths() {
		n, _ := s.Get(p)
		var err error
		switch n := n.(type) {
		case *filesystem.File:
			err = writeRecord(fw, p, escape(string(n.Data), false))
		case *filesystem.Dir:
			var b strings.Builder
			for _, c := range n.Children {
				b.WriteString(escape(c, true))
				b.WriteByte(ChildSep)
			}
			err = writeRecord(dw, p, b.String())
		case *filesystem.Symlink:
			err = writeRecord(lw, p, escape(n.Target, false))
		}
		if err != nil {
			return fmt.Errorf("encode %s: %w", p, err)
		}
	}

	for stream, w := range map[Stream]*bufio.Writer{FilesStream: fw, DirsStream: dw, LinksStream: lw} {
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush %s stream: %w", stream, err)
		}
	}
	return nil
}

func writeRecord(w *bufio.Writer, path, payload string) error {
	if _, err := w.WriteString(escape(path, false)); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	if _, err := w.WriteString(payload); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// Decode rebuilds a store from the three streams, read in the order files,
// dirs, links. A path found in more than one stream keeps the kind of the
// stream read last. A nil reader is treated as an empty stream.
func Decode(files, dirs, links io.Reader) (*filesystem.Store, error) {
	s := filesystem.NewStore()

	err := decodeStream(files, FilesStream, func(p, payload string) {
		var data []byte
		if payload != "" {
			data = []byte(unescape(payload))
		}
		s.Put(p, filesystem.NewFile(filesystem.NameOf(p), data))
	})
	if err != nil {
		return nil, err
	}
	err = decodeStream(dirs, DirsStream, func(p, payload string) {
		s.Put(p, filesystem.NewDir(filesystem.NameOf(p), splitChildren(payload)...))
	})
	if err != nil {
		return nil, err
	}
	err = decodeStream(links, LinksStream, func(p, payload string) {
		s.Put(p, filesystem.NewSymlink(filesystem.NameOf(p), unescape(payload)))
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// decodeStream calls put for each (path, payload) line pair of r.
func decodeStream(r io.Reader, stream Stream, put func(path, payload string)) error {
	if r == nil {
		return nil
	}
	sc := bufio.NewScanner(r)
	// a line can hold a whole file plus escapes; don't cap it at 64KiB
	sc.Buffer(make([]byte, 0, 64*1024), 1<<30)

	var (
		path   string
		line   int
		inPair bool
	)
	for sc.Scan() {
		line++
		if !inPair {
			path = unescape(sc.Text())
			inPair = true
			continue
		}
		put(path, sc.Text())
		inPair = false
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s stream: %w", stream, err)
	}
	if inPair {
		return fmt.Errorf("%s stream line %d: path %q has no payload line", stream, line, path)
	}
	return nil
}

// splitChildren splits a dirs payload on unescaped separators. Text after
// the last separator is ignored, like the legacy decoder did.
func splitChildren(payload string) []string {
	var (
		children []string
		cur      strings.Builder
		esc      bool
	)
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		switch {
		case esc:
			cur.WriteByte(unescapeByte(c))
			esc = false
		case c == '\\':
			esc = true
		case c == ChildSep:
			children = append(children, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return children
}

func escape(s string, child bool) string {
	if !strings.ContainsAny(s, "\\\n\r?") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case ChildSep:
			if child {
				b.WriteString(`\?`)
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(unescapeByte(s[i]))
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func unescapeByte(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	default:
		return c
	}
}
