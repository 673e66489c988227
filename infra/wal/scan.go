package wal

import (
	"encoding/binary"
	"io"
	"os"
)

// maxSeqInSegment returns the highest sequence in a segment without
// decoding payloads. Used only for truncation.
func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var maxSeq uint64
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return maxSeq, nil
			}
			return maxSeq, err
		}
		maxSeq = max(maxSeq, binary.BigEndian.Uint64(header[1:9]))

		skip := int64(binary.BigEndian.Uint16(header[25:27])) +
			int64(binary.BigEndian.Uint32(header[27:31])) + 4
		if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
			return maxSeq, err
		}
	}
}
