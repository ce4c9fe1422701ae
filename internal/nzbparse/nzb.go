// Package nzbparse decodes NZB manifest files into the shapes the queue
// and scheduler operate on: one manifest per submitted batch, one entry per
// source file, one segment per article.
package nzbparse

import "encoding/xml"

// Manifest is the root of an NZB document.
type Manifest struct {
	XMLName xml.Name `xml:"nzb"`
	Meta    []Meta   `xml:"head>meta"`
	Files   []File   `xml:"file"`
}

// Meta is a `<meta type="...">value</meta>` entry under `<head>`, used by
// some indexers to carry category/password hints. The core download engine
// does not interpret these beyond passing them through as parameters.
type Meta struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// File is one `<file>` element: a source file plus its article segments.
type File struct {
	Subject  string    `xml:"subject,attr"`
	Poster   string    `xml:"poster,attr"`
	Date     int64     `xml:"date,attr"`
	Groups   []string  `xml:"groups>group"`
	Segments []Segment `xml:"segments>segment"`
}

// Segment is one `<segment>` element: an article's message-id, its 1-based
// part number, and its declared byte size (from the NZB, not yet verified
// against the article body).
type Segment struct {
	XMLName   xml.Name `xml:"segment"`
	Number    int      `xml:"number,attr"`
	Bytes     int64    `xml:"bytes,attr"`
	MessageID string   `xml:",chardata"`
}

// TotalSize sums the declared segment sizes, the value used to seed
// FileInfo.Size before any article has actually been downloaded.
func (f File) TotalSize() int64 {
	var total int64
	for _, s := range f.Segments {
		total += s.Bytes
	}
	return total
}
