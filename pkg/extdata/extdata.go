// Package extdata packs named byte blobs (simulation input files,
// parameter overrides) into the flat envelope format the worker and
// leader HTTP endpoints expect in their `externalData` form field.
package extdata

import (
	"encoding/base64"
	"path/filepath"
	"strings"
)

// textExtensions is the set of file extensions (without the leading
// dot, lowercased) treated as text. Everything else is packed as binary.
var textExtensions = map[string]bool{
	"csv":  true,
	"txt":  true,
	"jshc": true,
	"josh": true,
}

// IsText reports whether filename's extension places it in the text
// set, case-insensitively.
func IsText(filename string) bool {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	return textExtensions[strings.ToLower(ext)]
}

// File is one named byte blob to pack, in the order it should appear
// in the envelope.
type File struct {
	Name    string
	Content []byte
}

// Pack renders files into the wire envelope: for each entry, in the
// given order, `name \t flag \t content \t` where flag is "1" for
// binary and "0" for text. Text content has embedded TABs replaced
// with four spaces (the framing TAB after content must stay
// unambiguous); binary content is standard-alphabet base64 with no
// line wrapping. The receiver relies on each entry's trailing TAB to
// find entry boundaries; there is no entry count prefix.
func Pack(files []File) string {
	var b strings.Builder
	for _, f := range files {
		b.WriteString(f.Name)
		b.WriteByte('\t')
		if IsText(f.Name) {
			b.WriteByte('0')
			b.WriteByte('\t')
			b.WriteString(strings.ReplaceAll(string(f.Content), "\t", "    "))
		} else {
			b.WriteByte('1')
			b.WriteByte('\t')
			b.WriteString(base64.StdEncoding.EncodeToString(f.Content))
		}
		b.WriteByte('\t')
	}
	return b.String()
}

// PackMap is a convenience wrapper over Pack for callers that only have
// an unordered map and an explicit desired order (e.g. the job planner's
// file map, where iteration order would otherwise be non-deterministic).
func PackMap(files map[string][]byte, order []string) string {
	ordered := make([]File, 0, len(order))
	for _, name := range order {
		content, ok := files[name]
		if !ok {
			continue
		}
		ordered = append(ordered, File{Name: name, Content: content})
	}
	return Pack(ordered)
}
