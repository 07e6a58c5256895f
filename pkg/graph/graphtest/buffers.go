package graphtest

import (
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/live_publish/pkg/graph"
)

// NewBuffer создает буфер с RTP пакетом, в котором номер последовательности
// равен seq. Удобно для проверки порядка и непрерывности доставки.
func NewBuffer(kind graph.MediaKind, seq uint16) *graph.Buffer {
	pt := uint8(111)
	if kind == graph.KindVideo {
		pt = 96
	}
	return &graph.Buffer{
		Kind: kind,
		Packet: &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    pt,
				SequenceNumber: seq,
				Timestamp:      uint32(seq) * 960,
				SSRC:           0x1234 + uint32(kind),
			},
			Payload: []byte{byte(seq), byte(seq >> 8), 0xAA, 0x55},
		},
		PTS:      time.Duration(seq) * 20 * time.Millisecond,
		Duration: 20 * time.Millisecond,
	}
}

// Sequences возвращает номера последовательности буферов по порядку
func Sequences(bufs []*graph.Buffer) []uint16 {
	out := make([]uint16, 0, len(bufs))
	for _, b := range bufs {
		if b.Packet != nil {
			out = append(out, b.Packet.SequenceNumber)
		}
	}
	return out
}

// IsContiguous проверяет, что номера последовательности идут подряд
func IsContiguous(seqs []uint16) bool {
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			return false
		}
	}
	return true
}
