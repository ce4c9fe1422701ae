package decoding

import (
	"bytes"
	"hash/crc32"
	"strconv"
	"strings"
)

// yEncDecoder decodes one article's yEnc-encoded body, grounded on
// datallboy-GoNZB's internal/decoding/yenc.go escape handling, adapted from
// an io.Reader pull model to a line-Feed push model so it composes with the
// NNTP engine's line-at-a-time body streaming (spec 4.5 Download()).
type yEncDecoder struct {
	sawBegin  bool
	sawPart   bool
	filename  string
	fileSize  int64
	begin     int64 // 1-based, inclusive, from =ypart or =ybegin
	end       int64 // 1-based, inclusive
	hash      uint32
	haveCRC   bool
	crc       uint32
	finished  bool
	sizeKnown bool
	declSize  int64 // size= from =ybegin, used for single-part validation
	written   int64
}

func NewYEncDecoder() *yEncDecoder {
	return &yEncDecoder{}
}

func (d *yEncDecoder) Format() Format { return YEnc }

func (d *yEncDecoder) Sniff(line []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(line), []byte("=ybegin"))
}

func (d *yEncDecoder) Feed(line []byte) ([]byte, error) {
	trimmed := bytes.TrimRight(line, "\r\n")

	switch {
	case bytes.HasPrefix(trimmed, []byte("=ybegin")):
		d.parseHeader(trimmed, "=ybegin")
		d.sawBegin = true
		d.begin, d.end = 1, d.declSize
		return nil, nil
	case bytes.HasPrefix(trimmed, []byte("=ypart")):
		d.parseHeader(trimmed, "=ypart")
		d.sawPart = true
		return nil, nil
	case bytes.HasPrefix(trimmed, []byte("=yend")):
		d.parseFooter(trimmed)
		d.finished = true
		return nil, nil
	}

	if !d.sawBegin {
		return nil, nil
	}

	decoded := make([]byte, 0, len(trimmed))
	escaped := false
	for _, b := range trimmed {
		if escaped {
			decoded = append(decoded, b-0x40-0x2A)
			escaped = false
			continue
		}
		if b == '=' {
			escaped = true
			continue
		}
		decoded = append(decoded, b-0x2A)
	}
	if len(decoded) == 0 {
		return nil, nil
	}
	d.hash = crc32.Update(d.hash, crc32.IEEETable, decoded)
	d.written += int64(len(decoded))
	return decoded, nil
}

func (d *yEncDecoder) parseHeader(line []byte, prefix string) {
	fields := strings.Fields(string(line))
	for _, f := range fields[1:] {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			// "name=" may contain spaces and is always the last field in
			// practice; reconstruct it from the remainder of the line.
			if idx := strings.Index(string(line), "name="); idx >= 0 {
				d.filename = strings.TrimSpace(string(line)[idx+len("name="):])
			}
			break
		}
		switch kv[0] {
		case "size":
			n, _ := strconv.ParseInt(kv[1], 10, 64)
			if prefix == "=ybegin" {
				d.declSize = n
				d.fileSize = n
			}
		case "begin":
			n, _ := strconv.ParseInt(kv[1], 10, 64)
			d.begin = n
		case "end":
			n, _ := strconv.ParseInt(kv[1], 10, 64)
			d.end = n
		case "name":
			d.filename = kv[1]
		}
	}
}

func (d *yEncDecoder) parseFooter(line []byte) {
	fields := strings.Fields(string(line))
	for _, f := range fields[1:] {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "size":
			n, _ := strconv.ParseInt(kv[1], 10, 64)
			d.sizeKnown = true
			// For multi-part articles this is the part size, not the file
			// size; only trust it for single-part bodies (no =ypart seen).
			if !d.sawPart {
				d.declSize = n
			}
		case "crc32", "pcrc32":
			n, err := strconv.ParseUint(kv[1], 16, 32)
			if err == nil {
				d.crc = uint32(n)
				d.haveCRC = true
			}
		}
	}
}

func (d *yEncDecoder) ArticleFilename() string { return d.filename }
func (d *yEncDecoder) FileSize() int64         { return d.fileSize }
func (d *yEncDecoder) Offset() int64 {
	if d.begin <= 0 {
		return 0
	}
	return d.begin - 1
}
func (d *yEncDecoder) Size() int64 {
	if d.end >= d.begin && d.begin > 0 {
		return d.end - d.begin + 1
	}
	return d.written
}

func (d *yEncDecoder) CRC32() uint32 { return d.hash }
func (d *yEncDecoder) ExpectedCRC32() (uint32, bool) {
	return d.crc, d.haveCRC
}

func (d *yEncDecoder) Check(crcCheckEnabled bool) Status {
	if !d.sawBegin {
		return NoBinaryData
	}
	if !d.finished {
		return ArticleIncomplete
	}
	if d.sizeKnown && d.written != d.Size() && d.Size() > 0 {
		return InvalidSize
	}
	if crcCheckEnabled && d.haveCRC && d.crc != d.hash {
		return CrcError
	}
	return Finished
}
