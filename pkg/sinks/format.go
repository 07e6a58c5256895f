package sinks

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/live_publish/pkg/graph"
)

// Формат файла записи: заголовок recordMagic, затем последовательность
// записей
//
//	kind    uint8
//	pts     int64  (наносекунды от base time)
//	length  uint32
//	packet  [length]byte (RTP пакет)
//
// Все числа в сетевом порядке байт.
var recordMagic = [8]byte{'L', 'P', 'R', 'E', 'C', 0, 0, 1}

const recordHeaderSize = 1 + 8 + 4

// maxRecordSize ограничение размера одной записи при чтении
const maxRecordSize = 1 << 20

// Record одна запись файла
type Record struct {
	Kind   graph.MediaKind
	PTS    time.Duration
	Packet *rtp.Packet
}

// ErrBadRecordFile файл не является файлом записи
var ErrBadRecordFile = errors.New("неизвестный формат файла записи")

func writeHeader(w io.Writer) error {
	_, err := w.Write(recordMagic[:])
	return err
}

func writeRecord(w io.Writer, buf *graph.Buffer) (int, error) {
	if buf.Packet == nil {
		return 0, fmt.Errorf("буфер без RTP пакета")
	}
	payload, err := buf.Packet.Marshal()
	if err != nil {
		return 0, fmt.Errorf("ошибка сериализации RTP: %w", err)
	}

	var hdr [recordHeaderSize]byte
	hdr[0] = byte(buf.Kind)
	binary.BigEndian.PutUint64(hdr[1:9], uint64(buf.PTS))
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(payload); err != nil {
		return 0, err
	}
	return recordHeaderSize + len(payload), nil
}

// ReadRecords читает все записи файла записи
func ReadRecords(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)

	var magic [8]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecordFile, err)
	}
	if magic != recordMagic {
		return nil, ErrBadRecordFile
	}

	var records []Record
	for {
		var hdr [recordHeaderSize]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("запись %d: обрезанный заголовок: %w", len(records), err)
		}

		length := binary.BigEndian.Uint32(hdr[9:13])
		if length > maxRecordSize {
			return records, fmt.Errorf("запись %d: размер %d превышает предел", len(records), length)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(br, data); err != nil {
			return records, fmt.Errorf("запись %d: обрезанный пакет: %w", len(records), err)
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(data); err != nil {
			return records, fmt.Errorf("запись %d: %w", len(records), err)
		}

		records = append(records, Record{
			Kind:   graph.MediaKind(hdr[0]),
			PTS:    time.Duration(int64(binary.BigEndian.Uint64(hdr[1:9]))),
			Packet: pkt,
		})
	}
}
