package decoding

import (
	"hash/crc32"
	"testing"
)

func yEncLine(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		v := b + 0x2A
		switch v {
		case 0x00, 0x0A, 0x0D, '=':
			out = append(out, '=', v+0x40)
		default:
			out = append(out, v)
		}
	}
	return out
}

func TestYEncSinglePartRoundTrip(t *testing.T) {
	payload := []byte("hello usenet world, this is a test payload")
	crc := crc32.ChecksumIEEE(payload)

	d := NewYEncDecoder()
	if !d.Sniff([]byte("=ybegin line=128 size=42 name=test.bin")) {
		t.Fatal("Sniff should recognise =ybegin")
	}

	var got []byte
	feed := func(line string) {
		out, err := d.Feed([]byte(line))
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		got = append(got, out...)
	}

	feed("=ybegin line=128 size=42 name=test.bin")
	feed(string(yEncLine(payload)))
	feed("=yend size=42 crc32=" + hex32(crc))

	if string(got) != string(payload) {
		t.Fatalf("decoded = %q, want %q", got, payload)
	}
	if status := d.Check(true); status != Finished {
		t.Fatalf("Check = %v, want Finished", status)
	}
	if d.ArticleFilename() != "test.bin" {
		t.Fatalf("filename = %q", d.ArticleFilename())
	}
}

func TestYEncCrcMismatch(t *testing.T) {
	payload := []byte("corrupt me")
	d := NewYEncDecoder()
	d.Feed([]byte("=ybegin line=128 size=10 name=x"))
	d.Feed(yEncLine(payload))
	d.Feed([]byte("=yend size=10 crc32=deadbeef"))

	if status := d.Check(true); status != CrcError {
		t.Fatalf("Check = %v, want CrcError", status)
	}
	if status := d.Check(false); status != Finished {
		t.Fatalf("Check with crc disabled = %v, want Finished", status)
	}
}

func TestYEncIncomplete(t *testing.T) {
	d := NewYEncDecoder()
	d.Feed([]byte("=ybegin line=128 size=10 name=x"))
	d.Feed(yEncLine([]byte("partial")))
	if status := d.Check(true); status != ArticleIncomplete {
		t.Fatalf("Check = %v, want ArticleIncomplete", status)
	}
}

func TestYEncMultipartOffsets(t *testing.T) {
	d := NewYEncDecoder()
	d.Feed([]byte("=ybegin part=2 total=3 line=128 size=30000 name=movie.mkv"))
	d.Feed([]byte("=ypart begin=10001 end=20000"))
	if got, want := d.Offset(), int64(10000); got != want {
		t.Fatalf("Offset = %d, want %d", got, want)
	}
	if got, want := d.Size(), int64(10000); got != want {
		t.Fatalf("Size = %d, want %d", got, want)
	}
}

func TestSniffDispatchesUU(t *testing.T) {
	if f := Sniff([]byte("begin 644 file.bin")); f != UU {
		t.Fatalf("Sniff = %v, want UU", f)
	}
	if f := Sniff([]byte("=ybegin line=128 size=1 name=x")); f != YEnc {
		t.Fatalf("Sniff = %v, want YEnc", f)
	}
	if f := Sniff([]byte("garbage")); f != Unknown {
		t.Fatalf("Sniff = %v, want Unknown", f)
	}
}

func TestUURoundTrip(t *testing.T) {
	payload := []byte("abc") // exactly one UU group
	d := NewUUDecoder()
	d.Feed([]byte("begin 644 test.bin"))

	line := make([]byte, 0, 5)
	line = append(line, byte(len(payload))+0x20)
	c0 := payload[0] >> 2
	c1 := (payload[0]<<4)&0x3F | payload[1]>>4
	c2 := (payload[1]<<2)&0x3F | payload[2]>>6
	c3 := payload[2] & 0x3F
	for _, c := range []byte{c0, c1, c2, c3} {
		line = append(line, c+0x20)
	}
	got, err := d.Feed(line)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	d.Feed([]byte("end"))

	if string(got) != string(payload) {
		t.Fatalf("decoded = %q, want %q", got, payload)
	}
	if status := d.Check(false); status != Finished {
		t.Fatalf("Check = %v, want Finished", status)
	}
}

func TestCombineCRC32(t *testing.T) {
	a := []byte("the quick brown fox ")
	b := []byte("jumps over the lazy dog")
	whole := append(append([]byte{}, a...), b...)

	crcA := crc32.ChecksumIEEE(a)
	crcB := crc32.ChecksumIEEE(b)
	wantCombined := crc32.ChecksumIEEE(whole)

	if got := CombineCRC32(crcA, crcB, int64(len(b))); got != wantCombined {
		t.Fatalf("CombineCRC32 = %08x, want %08x", got, wantCombined)
	}
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return string(buf)
}
