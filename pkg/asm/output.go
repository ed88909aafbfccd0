package asm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// WriteHex writes one lowercase, zero-padded 8-digit word per line.
func WriteHex(w io.Writer, words []uint32) error {
	bw := bufio.NewWriter(w)
	for _, word := range words {
		if _, err := fmt.Fprintf(bw, "%08x\n", word); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteBinary writes the words little-endian, back to back.
func WriteBinary(w io.Writer, words []uint32) error {
	buf := make([]byte, 0, len(words)*4)
	for _, word := range words {
		buf = binary.LittleEndian.AppendUint32(buf, word)
	}
	_, err := w.Write(buf)
	return err
}

// ReadHex parses the format produced by WriteHex. Blank lines and '#'
// comments are ignored.
func ReadHex(r io.Reader) ([]uint32, error) {
	var words []uint32
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(sc.Text()))
		if line == "" {
			continue
		}
		v, err := strconv.ParseUint(line, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad word %q: %w", lineNo, line, err)
		}
		words = append(words, uint32(v))
	}
	return words, sc.Err()
}

// Checksum hashes the little-endian image of words.
func Checksum(words []uint32) uint64 {
	d := xxhash.New()
	var b [4]byte
	for _, word := range words {
		binary.LittleEndian.PutUint32(b[:], word)
		d.Write(b[:])
	}
	return d.Sum64()
}

func (p *Program) Checksum() uint64 { return Checksum(p.Words) }

func (p *Program) WriteHex(w io.Writer) error { return WriteHex(w, p.Words) }

func (p *Program) WriteBinary(w io.Writer) error { return WriteBinary(w, p.Words) }
