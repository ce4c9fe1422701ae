// Package decoding implements the streaming article-body decoders: yEnc
// (the common case) and UU-encode (legacy fallback), both accumulating a
// CRC32 as they go so the caller never has to buffer a whole article to
// verify it.
package decoding

import "errors"

// Format identifies which transfer encoding an article body uses.
type Format int

const (
	// Unknown means the body has not been sniffed yet.
	Unknown Format = iota
	YEnc
	UU
)

// Status is the terminal outcome of decoding one article, mirroring
// Decoder::EStatus from the reference implementation.
type Status int

const (
	StatusUnknown Status = iota
	Finished
	CrcError
	ArticleIncomplete
	InvalidSize
	NoBinaryData
)

func (s Status) String() string {
	switch s {
	case Finished:
		return "Finished"
	case CrcError:
		return "CrcError"
	case ArticleIncomplete:
		return "ArticleIncomplete"
	case InvalidSize:
		return "InvalidSize"
	case NoBinaryData:
		return "NoBinaryData"
	default:
		return "Unknown"
	}
}

var ErrNoBinaryData = errors.New("decoding: article contains no recognised binary encoding")

// Decoded is one decoded body line's worth of bytes.
type Decoded struct {
	Data []byte
}

// Decoder is the common contract both format decoders satisfy. A Decoder is
// fed raw (already dot-unstuffed) body lines one at a time; it reports
// header fields as soon as they are known and the final status once the
// terminating line has been processed.
type Decoder interface {
	// Format reports which variant this decoder implements.
	Format() Format
	// Sniff inspects the first body line and reports whether this decoder
	// recognises the format (e.g. "=ybegin" or "begin ").
	Sniff(line []byte) bool
	// Feed consumes one body line (without its trailing CRLF). It returns
	// decoded bytes, if any were produced by this line.
	Feed(line []byte) ([]byte, error)
	// ArticleFilename returns the filename extracted from the header, once
	// known.
	ArticleFilename() string
	// FileSize returns the declared total size of the reassembled file, once
	// known (yEnc only; UU does not declare it).
	FileSize() int64
	// Offset and Size report the declared byte range of this article within
	// the reassembled file (0-based offset, inclusive length).
	Offset() int64
	Size() int64
	// Check finalizes decoding and returns the terminal status.
	Check(crcCheckEnabled bool) Status
	// CRC32 returns the accumulated CRC32 of decoded bytes.
	CRC32() uint32
	// ExpectedCRC32 returns the CRC32 declared by the format's trailer, if
	// any was present.
	ExpectedCRC32() (uint32, bool)
}

// Sniff picks a Format by inspecting the first non-empty body line, mirroring
// Decoder::DetectFormat in the reference implementation.
func Sniff(line []byte) Format {
	y := NewYEncDecoder()
	if y.Sniff(line) {
		return YEnc
	}
	u := NewUUDecoder()
	if u.Sniff(line) {
		return UU
	}
	return Unknown
}

// New constructs a fresh decoder for the given format. Panics on Unknown;
// callers must Sniff first.
func New(f Format) Decoder {
	switch f {
	case YEnc:
		return NewYEncDecoder()
	case UU:
		return NewUUDecoder()
	default:
		panic("decoding: New called with Unknown format")
	}
}
