package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// RecordType says what a journal record does to its node.
type RecordType uint8

const (
	RecordSet RecordType = iota + 1
	RecordRemove
)

// Record is one committed node change.
type Record struct {
	Type   RecordType
	Seq    uint64 // store commit sequence
	Time   int64
	Serial uint64 // node version after the commit
	Path   string
	Data   []byte
}

func NewRecord(t RecordType, seq, serial uint64, path string, data []byte) *Record {
	return &Record{
		Type:   t,
		Seq:    seq,
		Time:   time.Now().UnixNano(),
		Serial: serial,
		Path:   path,
		Data:   data,
	}
}

var ErrCorrupt = errors.New("wal: corrupt record")

// Frame:
// [type:1][seq:8][time:8][serial:8][pathLen:2][dataLen:4][path][data][crc:4]
const headerSize = 1 + 8 + 8 + 8 + 2 + 4

func (r *Record) encode() ([]byte, error) {
	if len(r.Path) > 0xffff {
		return nil, fmt.Errorf("wal: path of %d bytes too long", len(r.Path))
	}
	body := headerSize + len(r.Path) + len(r.Data)
	buf := make([]byte, body+4)

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint64(buf[17:25], r.Serial)
	binary.BigEndian.PutUint16(buf[25:27], uint16(len(r.Path)))
	binary.BigEndian.PutUint32(buf[27:31], uint32(len(r.Data)))
	copy(buf[headerSize:], r.Path)
	copy(buf[headerSize+len(r.Path):], r.Data)

	binary.BigEndian.PutUint32(buf[body:], checksum(buf[:body]))
	return buf, nil
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	pathLen := int(binary.BigEndian.Uint16(header[25:27]))
	dataLen := int(binary.BigEndian.Uint32(header[27:31]))

	rest := make([]byte, pathLen+dataLen+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	body := rest[:pathLen+dataLen]
	sum := binary.BigEndian.Uint32(rest[pathLen+dataLen:])
	if checksum(append(header, body...)) != sum {
		return nil, ErrCorrupt
	}

	return &Record{
		Type:   RecordType(header[0]),
		Seq:    binary.BigEndian.Uint64(header[1:9]),
		Time:   int64(binary.BigEndian.Uint64(header[9:17])),
		Serial: binary.BigEndian.Uint64(header[17:25]),
		Path:   string(body[:pathLen]),
		Data:   body[pathLen:],
	}, nil
}
