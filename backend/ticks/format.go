// Package ticks implements the binary Tick Recorder and Player (§4.11, §6),
// grounded on the teacher's backend/tickstore/daily_store.go day-rotation and
// periodic-flush idiom, adapted from JSON records to the exact binary wire
// format specified in §6.
package ticks

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
)

const (
	magic         uint64 = 0x5449434B46494C45
	formatVersion uint32 = 1

	headerSize = 32
	recordSize = 88
)

var (
	ErrBadMagic   = errors.New("ticks: bad magic number")
	ErrBadVersion = errors.New("ticks: unsupported format version")
)

// Header is the 32-byte file header.
type Header struct {
	Version        uint32
	TickCount      uint32
	CreatedAtEpoch uint64
	CRC32          uint64
}

// Record is one 88-byte tick record.
type Record struct {
	TimestampEpochMs uint64
	InstrumentToken  uint64
	LastPrice        float64
	Open             float64
	High             float64
	Low              float64
	Close            float64
	Volume           uint64
	OI               float64
	OIChange         float64
	ReceivedAtNanos  uint64
}

// EncodeHeader writes h as 32 big-endian bytes.
func EncodeHeader(h Header) [headerSize]byte {
	var buf [headerSize]byte
	binary.BigEndian.PutUint64(buf[0:8], magic)
	binary.BigEndian.PutUint32(buf[8:12], h.Version)
	binary.BigEndian.PutUint32(buf[12:16], h.TickCount)
	binary.BigEndian.PutUint64(buf[16:24], h.CreatedAtEpoch)
	binary.BigEndian.PutUint64(buf[24:32], h.CRC32)
	return buf
}

// DecodeHeader validates magic/version and parses a 32-byte header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, errors.New("ticks: short header")
	}
	if binary.BigEndian.Uint64(buf[0:8]) != magic {
		return Header{}, ErrBadMagic
	}
	version := binary.BigEndian.Uint32(buf[8:12])
	if version != formatVersion {
		return Header{}, ErrBadVersion
	}
	return Header{
		Version:        version,
		TickCount:      binary.BigEndian.Uint32(buf[12:16]),
		CreatedAtEpoch: binary.BigEndian.Uint64(buf[16:24]),
		CRC32:          binary.BigEndian.Uint64(buf[24:32]),
	}, nil
}

// EncodeRecord writes r as 88 big-endian bytes, field order per §6.
func EncodeRecord(r Record) [recordSize]byte {
	var buf [recordSize]byte
	binary.BigEndian.PutUint64(buf[0:8], r.TimestampEpochMs)
	binary.BigEndian.PutUint64(buf[8:16], r.InstrumentToken)
	binary.BigEndian.PutUint64(buf[16:24], math.Float64bits(r.LastPrice))
	binary.BigEndian.PutUint64(buf[24:32], math.Float64bits(r.Open))
	binary.BigEndian.PutUint64(buf[32:40], math.Float64bits(r.High))
	binary.BigEndian.PutUint64(buf[40:48], math.Float64bits(r.Low))
	binary.BigEndian.PutUint64(buf[48:56], math.Float64bits(r.Close))
	binary.BigEndian.PutUint64(buf[56:64], r.Volume)
	binary.BigEndian.PutUint64(buf[64:72], math.Float64bits(r.OI))
	binary.BigEndian.PutUint64(buf[72:80], math.Float64bits(r.OIChange))
	binary.BigEndian.PutUint64(buf[80:88], r.ReceivedAtNanos)
	return buf
}

// DecodeRecord parses an 88-byte tick record.
func DecodeRecord(buf []byte) (Record, error) {
	if len(buf) < recordSize {
		return Record{}, errors.New("ticks: short record")
	}
	return Record{
		TimestampEpochMs: binary.BigEndian.Uint64(buf[0:8]),
		InstrumentToken:  binary.BigEndian.Uint64(buf[8:16]),
		LastPrice:        math.Float64frombits(binary.BigEndian.Uint64(buf[16:24])),
		Open:             math.Float64frombits(binary.BigEndian.Uint64(buf[24:32])),
		High:             math.Float64frombits(binary.BigEndian.Uint64(buf[32:40])),
		Low:              math.Float64frombits(binary.BigEndian.Uint64(buf[40:48])),
		Close:            math.Float64frombits(binary.BigEndian.Uint64(buf[48:56])),
		Volume:           binary.BigEndian.Uint64(buf[56:64]),
		OI:               math.Float64frombits(binary.BigEndian.Uint64(buf[64:72])),
		OIChange:         math.Float64frombits(binary.BigEndian.Uint64(buf[72:80])),
		ReceivedAtNanos:  binary.BigEndian.Uint64(buf[80:88]),
	}, nil
}

// CRC32 computes the IEEE CRC32 over the concatenated record bytes.
func CRC32(recordBytes []byte) uint32 {
	return crc32.ChecksumIEEE(recordBytes)
}
