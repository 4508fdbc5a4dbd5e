package inference

import (
	"bufio"
	"errors"
	"io"
)

// Segmenter splits a response body into newline-terminated lines. Reads are
// buffered, so a multi-byte rune split across two network reads is only
// handed out once the whole line has arrived.
type Segmenter struct {
	reader *bufio.Reader
}

func NewSegmenter(r io.Reader) *Segmenter {
	return &Segmenter{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next line without its terminator. A trailing line with no
// newline is returned before io.EOF.
func (s *Segmenter) Next() ([]byte, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, nil
		}
		return nil, err
	}
	return line[:len(line)-1], nil
}
