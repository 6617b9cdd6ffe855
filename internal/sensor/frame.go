// Package sensor drives a TFmini-S infrared rangefinder over a serial port.
//
// The sensor streams fixed nine-byte data frames:
//
//	0x59 0x59 DistL DistH StrL StrH TempL TempH Checksum
//
// where the checksum is the low byte of the sum of the first eight bytes,
// distance is in centimeters and temperature is raw/8 - 256 degrees Celsius.
package sensor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const (
	// FrameSize is the length of a data frame in bytes.
	FrameSize = 9

	frameHeader = 0x59

	// Readings with a weaker return signal are unreliable.
	minStrength = 100
	// The sensor reports this strength when the receiver is saturated.
	saturatedStrength = 65535
)

var (
	ErrChecksum = errors.New("frame checksum mismatch")
	ErrHeader   = errors.New("frame header not found")
)

// Reading is a decoded data frame.
type Reading struct {
	// DistanceCM is -1 when the echo was too weak or saturated.
	DistanceCM   int     `json:"distance_cm"`
	RawDistance  int     `json:"raw_distance_cm"`
	Strength     int     `json:"strength"`
	TemperatureC float64 `json:"temperature_c"`
}

// Valid reports whether the reading carries a usable distance.
func (r Reading) Valid() bool { return r.DistanceCM >= 0 }

func (r Reading) String() string {
	if !r.Valid() {
		return fmt.Sprintf("distance=invalid raw=%d strength=%d temp=%.1fC", r.RawDistance, r.Strength, r.TemperatureC)
	}
	return fmt.Sprintf("distance=%dcm strength=%d temp=%.1fC", r.DistanceCM, r.Strength, r.TemperatureC)
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// DecodeFrame decodes a single nine-byte data frame.
func DecodeFrame(b []byte) (Reading, error) {
	if len(b) != FrameSize {
		return Reading{}, fmt.Errorf("frame length %d, want %d", len(b), FrameSize)
	}
	if b[0] != frameHeader || b[1] != frameHeader {
		return Reading{}, ErrHeader
	}
	if checksum(b[:FrameSize-1]) != b[FrameSize-1] {
		return Reading{}, ErrChecksum
	}

	raw := int(b[2]) | int(b[3])<<8
	strength := int(b[4]) | int(b[5])<<8
	temp := int(b[6]) | int(b[7])<<8

	r := Reading{
		DistanceCM:   raw,
		RawDistance:  raw,
		Strength:     strength,
		TemperatureC: float64(temp)/8 - 256,
	}
	if strength < minStrength || strength == saturatedStrength {
		r.DistanceCM = -1
	}
	return r, nil
}

// EncodeFrame builds a data frame. It is used by the simulator and tests.
func EncodeFrame(distanceCM, strength int, temperatureC float64) []byte {
	temp := int((temperatureC + 256) * 8)
	b := []byte{
		frameHeader, frameHeader,
		byte(distanceCM), byte(distanceCM >> 8),
		byte(strength), byte(strength >> 8),
		byte(temp), byte(temp >> 8),
		0,
	}
	b[FrameSize-1] = checksum(b[:FrameSize-1])
	return b
}

// FrameReader extracts data frames from a byte stream, resynchronising on
// the double header after noise or a dropped byte.
type FrameReader struct {
	r   *bufio.Reader
	buf [FrameSize]byte
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 64*FrameSize)}
}

// Next returns the next frame. ErrChecksum is returned for a corrupt frame;
// the caller may keep reading. Any other error comes from the underlying
// reader.
func (f *FrameReader) Next() (Reading, error) {
	if err := f.sync(); err != nil {
		return Reading{}, err
	}
	f.buf[0], f.buf[1] = frameHeader, frameHeader
	if _, err := io.ReadFull(f.r, f.buf[2:]); err != nil {
		return Reading{}, err
	}
	return DecodeFrame(f.buf[:])
}

// sync consumes bytes up to and including the next 0x59 0x59 pair.
func (f *FrameReader) sync() error {
	prevHeader := false
	for {
		c, err := f.r.ReadByte()
		if err != nil {
			return err
		}
		if c == frameHeader {
			if prevHeader {
				return nil
			}
			prevHeader = true
			continue
		}
		prevHeader = false
	}
}
