package sensor

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Command frames are 0x5A len id payload... checksum, where len counts every
// byte of the frame.
const commandHeader = 0x5A

// Command identifiers understood by the TFmini-S.
const (
	CmdGetVersion   byte = 0x01
	CmdSoftReset    byte = 0x02
	CmdFrameRate    byte = 0x03
	CmdOutputFormat byte = 0x05
	CmdEnableOutput byte = 0x07
	CmdSaveSettings byte = 0x11
)

// OutputFormatCM selects the standard nine-byte frame in centimeters.
const OutputFormatCM byte = 0x01

// Command builds a command frame.
func Command(id byte, payload ...byte) []byte {
	b := make([]byte, 0, len(payload)+4)
	b = append(b, commandHeader, byte(len(payload)+4), id)
	b = append(b, payload...)
	return append(b, checksum(b))
}

// FrameRateCommand sets the output rate in Hz. Zero switches to triggered
// mode, which this driver does not use.
func FrameRateCommand(hz int) []byte {
	return Command(CmdFrameRate, byte(hz), byte(hz>>8))
}

// InitCommands returns the commands sent at startup: centimeter output at the
// given frame rate with output enabled.
func InitCommands(frameRateHz int) [][]byte {
	return [][]byte{
		Command(CmdOutputFormat, OutputFormatCM),
		FrameRateCommand(frameRateHz),
		Command(CmdEnableOutput, 0x01),
	}
}

// ParseHexCommand parses a space or colon separated hex string such as
// "5A 04 01 5F" and checks the frame's length and checksum.
func ParseHexCommand(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(strings.TrimSpace(s))
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex command: %w", err)
	}
	if len(b) < 4 || b[0] != commandHeader {
		return nil, fmt.Errorf("command must start with 0x5A and be at least 4 bytes")
	}
	if int(b[1]) != len(b) {
		return nil, fmt.Errorf("command length byte %d does not match frame length %d", b[1], len(b))
	}
	if checksum(b[:len(b)-1]) != b[len(b)-1] {
		return nil, ErrChecksum
	}
	return b, nil
}
