package decoding

import (
	"bytes"
	"hash/crc32"
	"strings"
)

// uuDecoder decodes a legacy UU-encoded article body: a `begin <mode> <name>`
// header line, groups of 4 printable characters decoding to 3 bytes each
// (length-prefixed per line), and a terminal `end` line. UU does not declare
// size/CRC, so Check can only ever report Finished or NoBinaryData/Incomplete.
type uuDecoder struct {
	sawBegin bool
	sawEnd   bool
	filename string
	hash     uint32
	written  int64
}

func NewUUDecoder() *uuDecoder {
	return &uuDecoder{}
}

func (d *uuDecoder) Format() Format { return UU }

func (d *uuDecoder) Sniff(line []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(line), []byte("begin "))
}

func (d *uuDecoder) Feed(line []byte) ([]byte, error) {
	trimmed := bytes.TrimRight(line, "\r\n")

	if !d.sawBegin {
		if bytes.HasPrefix(trimmed, []byte("begin ")) {
			d.sawBegin = true
			fields := strings.SplitN(string(trimmed), " ", 3)
			if len(fields) == 3 {
				d.filename = fields[2]
			}
		}
		return nil, nil
	}

	if string(trimmed) == "end" {
		d.sawEnd = true
		return nil, nil
	}

	if len(trimmed) == 0 {
		return nil, nil
	}

	declaredLen := int(trimmed[0]-0x20) & 0x3F
	if declaredLen == 0 {
		return nil, nil
	}

	body := trimmed[1:]
	decoded := make([]byte, 0, declaredLen)
	for i := 0; i+3 < len(body)+1 && len(decoded) < declaredLen; i += 4 {
		if i+3 >= len(body) {
			break
		}
		c0 := (body[i] - 0x20) & 0x3F
		c1 := (body[i+1] - 0x20) & 0x3F
		c2 := (body[i+2] - 0x20) & 0x3F
		c3 := (body[i+3] - 0x20) & 0x3F
		decoded = append(decoded, c0<<2|c1>>4)
		decoded = append(decoded, c1<<4|c2>>2)
		decoded = append(decoded, c2<<6|c3)
	}
	if len(decoded) > declaredLen {
		decoded = decoded[:declaredLen]
	}

	d.hash = crc32.Update(d.hash, crc32.IEEETable, decoded)
	d.written += int64(len(decoded))
	return decoded, nil
}

func (d *uuDecoder) ArticleFilename() string { return d.filename }
func (d *uuDecoder) FileSize() int64         { return 0 }
func (d *uuDecoder) Offset() int64           { return 0 }
func (d *uuDecoder) Size() int64             { return d.written }
func (d *uuDecoder) CRC32() uint32           { return d.hash }
func (d *uuDecoder) ExpectedCRC32() (uint32, bool) {
	return 0, false
}

func (d *uuDecoder) Check(crcCheckEnabled bool) Status {
	if !d.sawBegin {
		return NoBinaryData
	}
	if !d.sawEnd {
		return ArticleIncomplete
	}
	return Finished
}
