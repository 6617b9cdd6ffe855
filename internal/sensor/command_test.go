package sensor

import (
	"bytes"
	"testing"
)

func TestCommand_KnownFrames(t *testing.T) {
	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"output format cm", Command(CmdOutputFormat, OutputFormatCM), []byte{0x5A, 0x05, 0x05, 0x01, 0x65}},
		{"enable output", Command(CmdEnableOutput, 0x01), []byte{0x5A, 0x05, 0x07, 0x01, 0x67}},
		{"save settings", Command(CmdSaveSettings), []byte{0x5A, 0x04, 0x11, 0x6F}},
		{"get version", Command(CmdGetVersion), []byte{0x5A, 0x04, 0x01, 0x5F}},
		{"100 Hz", FrameRateCommand(100), []byte{0x5A, 0x06, 0x03, 0x64, 0x00, 0xC7}},
		{"1000 Hz", FrameRateCommand(1000), []byte{0x5A, 0x06, 0x03, 0xE8, 0x03, 0x4E}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("got % X, want % X", tt.got, tt.want)
			}
		})
	}
}

func TestInitCommands(t *testing.T) {
	cmds := InitCommands(250)
	if len(cmds) != 3 {
		t.Fatalf("got %d commands, want 3", len(cmds))
	}
	if cmds[1][2] != CmdFrameRate || cmds[1][3] != 250 || cmds[1][4] != 0 {
		t.Errorf("frame rate command = % X", cmds[1])
	}
}

func TestParseHexCommand(t *testing.T) {
	valid := []string{"5A 04 01 5F", "5a:04:01:5f", "0x5A0x040x010x5F", " 5A04015F "}
	for _, in := range valid {
		got, err := ParseHexCommand(in)
		if err != nil {
			t.Errorf("ParseHexCommand(%q) error = %v", in, err)
			continue
		}
		if !bytes.Equal(got, []byte{0x5A, 0x04, 0x01, 0x5F}) {
			t.Errorf("ParseHexCommand(%q) = % X", in, got)
		}
	}

	invalid := []string{"", "zz", "59 04 01 5E", "5A 05 01 5F", "5A 04 01 60"}
	for _, in := range invalid {
		if _, err := ParseHexCommand(in); err == nil {
			t.Errorf("ParseHexCommand(%q) expected error", in)
		}
	}
}
