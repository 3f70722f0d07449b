// Package media measures narration clips so the timeline can be built from
// real audio lengths.
package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	ErrUnknownFormat = errors.New("media: unrecognised audio format")
	ErrNoFrames      = errors.New("media: no audio frames found")
)

// Prober measures audio durations. Headers of MP3 and WAV clips are parsed in
// process; anything else goes to ffprobe when FFProbePath is set.
type Prober struct {
	FFProbePath string
}

// Duration returns the clip length in seconds.
func (p *Prober) Duration(ctx context.Context, data []byte, contentType string) (float64, error) {
	d, err := Duration(data, contentType)
	if err == nil {
		return d, nil
	}
	if p == nil || p.FFProbePath == "" {
		return 0, err
	}
	return p.ffprobe(ctx, data)
}

func (p *Prober) ffprobe(ctx context.Context, data []byte) (float64, error) {
	f, err := os.CreateTemp("", "clip-*")
	if err != nil {
		return 0, fmt.Errorf("media: temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return 0, fmt.Errorf("media: temp file: %w", err)
	}
	f.Close()

	cmd := exec.CommandContext(ctx, p.FFProbePath, "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", f.Name())
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("media: ffprobe: %w: %s", err, strings.TrimSpace(string(out)))
	}

	var d float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &d); err != nil {
		return 0, fmt.Errorf("media: ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

// Duration parses MP3 or WAV data and returns its length in seconds.
func Duration(data []byte, contentType string) (float64, error) {
	switch {
	case isWAV(data):
		return wavDuration(data)
	case strings.Contains(contentType, "wav"):
		return 0, ErrUnknownFormat
	default:
		return mp3Duration(data)
	}
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

func wavDuration(data []byte) (float64, error) {
	var byteRate uint32
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, ErrUnknownFormat
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, ErrUnknownFormat
			}
			// Streamed WAVs leave the size unset.
			if size == 0 || body+size > len(data) {
				size = len(data) - body
			}
			return float64(size) / float64(byteRate), nil
		}

		pos = body + size + size%2
	}
	return 0, ErrNoFrames
}

var (
	mp3BitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mp3BitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

	// indexed by the version bits: 2.5, reserved, 2, 1
	mp3SampleRates = [4][3]int{
		{11025, 12000, 8000},
		{0, 0, 0},
		{22050, 24000, 16000},
		{44100, 48000, 32000},
	}
)

type mp3Frame struct {
	length     int
	samples    int
	sampleRate int
}

// parseMP3Header decodes a Layer III frame header.
func parseMP3Header(h []byte) (mp3Frame, bool) {
	if h[0] != 0xFF || h[1]&0xE0 != 0xE0 {
		return mp3Frame{}, false
	}
	version := (h[1] >> 3) & 0x03
	layer := (h[1] >> 1) & 0x03
	if version == 1 || layer != 1 {
		return mp3Frame{}, false
	}
	brIdx := h[2] >> 4
	srIdx := (h[2] >> 2) & 0x03
	if brIdx == 0 || brIdx == 15 || srIdx == 3 {
		return mp3Frame{}, false
	}
	padding := int((h[2] >> 1) & 0x01)
	sr := mp3SampleRates[version][srIdx]

	if version == 3 {
		br := mp3BitratesV1[brIdx] * 1000
		return mp3Frame{length: 144*br/sr + padding, samples: 1152, sampleRate: sr}, true
	}
	br := mp3BitratesV2[brIdx] * 1000
	return mp3Frame{length: 72*br/sr + padding, samples: 576, sampleRate: sr}, true
}

func id3v2Size(data []byte) int {
	if len(data) < 10 || !bytes.Equal(data[0:3], []byte("ID3")) {
		return 0
	}
	size := int(data[6]&0x7F)<<21 | int(data[7]&0x7F)<<14 | int(data[8]&0x7F)<<7 | int(data[9]&0x7F)
	size += 10
	if data[5]&0x10 != 0 {
		size += 10
	}
	return size
}

func mp3Duration(data []byte) (float64, error) {
	pos := id3v2Size(data)
	var seconds float64
	frames := 0

	for pos+4 <= len(data) {
		f, ok := parseMP3Header(data[pos : pos+4])
		if !ok || f.length < 4 {
			pos++
			continue
		}
		if pos+f.length > len(data) {
			break
		}
		seconds += float64(f.samples) / float64(f.sampleRate)
		frames++
		pos += f.length
	}

	if frames == 0 {
		return 0, ErrNoFrames
	}
	return seconds, nil
}
