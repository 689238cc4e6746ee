package jserver

import (
	"bufio"
	"io"
)

// scannerLineReader adapts a bufio.Scanner to LineReader, the shape
// most Engine implementations will want for wrapping a plain
// io.Reader of newline-terminated wire-protocol output.
type scannerLineReader struct {
	scanner *bufio.Scanner
}

// NewScannerLineReader wraps r as a LineReader, scanning line by line.
func NewScannerLineReader(r io.Reader) LineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scannerLineReader{scanner: s}
}

func (l *scannerLineReader) Next() (string, bool, error) {
	if l.scanner.Scan() {
		return l.scanner.Text(), true, nil
	}
	if err := l.scanner.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}
