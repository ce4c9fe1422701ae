package nzbparse

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

// Parser turns NZB bytes into a Manifest. It holds no state; it exists as a
// type (rather than a bare function) so it can be swapped for a mock in
// tests that exercise the ingestion path without real files.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nzbparse: open %s: %w", path, err)
	}
	defer f.Close()
	return p.Parse(f)
}

func (p *Parser) Parse(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(label string, in io.Reader) (io.Reader, error) {
		if l := strings.ToLower(label); l != "iso-8859-1" && l != "latin1" {
			return nil, fmt.Errorf("nzbparse: unsupported charset %q", label)
		}
		raw, err := io.ReadAll(in)
		runes := make([]rune, len(raw))
		for i, b := range raw {
			runes[i] = rune(b) // Latin-1 bytes are their own code points
		}
		return strings.NewReader(string(runes)), err
	}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("nzbparse: decode: %w", err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("nzbparse: manifest has no files")
	}
	return &m, nil
}
