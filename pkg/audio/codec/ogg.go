package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Ogg page header flags.
const (
	oggFlagContinued = 0x00
	oggFlagBOS       = 0x02
	oggFlagEOS       = 0x04

	oggHeaderLen = 27
	oggMaxLacing = 255
)

var oggCRCTable = func() *[256]uint32 {
	const poly = 0x04c11db7
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ poly
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return &t
}()

// oggWriter emits one packet per Ogg page for a single logical stream.
type oggWriter struct {
	w      io.Writer
	serial uint32
	seq    uint32
}

// writePage writes packet as one page. Packets longer than the 255-entry
// lacing table allows are rejected; Opus packets never reach that size.
func (o *oggWriter) writePage(packet []byte, flags byte, granule uint64) error {
	segs := len(packet)/oggMaxLacing + 1
	if segs > oggMaxLacing {
		return fmt.Errorf("codec: ogg: packet of %d bytes does not fit one page", len(packet))
	}

	page := make([]byte, oggHeaderLen+segs+len(packet))
	copy(page[0:4], "OggS")
	page[5] = flags
	binary.LittleEndian.PutUint64(page[6:14], granule)
	binary.LittleEndian.PutUint32(page[14:18], o.serial)
	binary.LittleEndian.PutUint32(page[18:22], o.seq)
	page[26] = byte(segs)
	for i := range segs - 1 {
		page[oggHeaderLen+i] = oggMaxLacing
	}
	page[oggHeaderLen+segs-1] = byte(len(packet) % oggMaxLacing)
	copy(page[oggHeaderLen+segs:], packet)

	var crc uint32
	for _, b := range page {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^b]
	}
	binary.LittleEndian.PutUint32(page[22:26], crc)

	o.seq++
	if _, err := o.w.Write(page); err != nil {
		return fmt.Errorf("codec: ogg: write page %d: %w", o.seq-1, err)
	}
	return nil
}
