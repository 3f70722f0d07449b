package service

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/reelsmith/api/internal/client"
)

// Mock backends stand in for unconfigured providers in development. They
// produce real media so uploads, probing and the timeline run unchanged.

// MockImageGenerator renders a solid 9:16 placeholder per prompt.
type MockImageGenerator struct{}

func (MockImageGenerator) GenerateImage(_ context.Context, prompt string) (*client.GeneratedImage, error) {
	var sum byte
	for i := 0; i < len(prompt); i++ {
		sum += prompt[i]
	}

	img := image.NewRGBA(image.Rect(0, 0, 90, 160))
	fill := color.RGBA{R: 40 + sum%80, G: 60 + (sum/3)%80, B: 110 + (sum/7)%100, A: 255}
	for y := 0; y < 160; y++ {
		for x := 0; x < 90; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return &client.GeneratedImage{Data: buf.Bytes(), ContentType: "image/png"}, nil
}

func (MockImageGenerator) Download(context.Context, string) ([]byte, string, error) {
	return nil, "", fmt.Errorf("mock image generator does not host images")
}

// MockSpeechGenerator returns silent WAV audio sized to the text, about
// 2.5 words per second.
type MockSpeechGenerator struct{}

const mockSampleRate = 8000

func (MockSpeechGenerator) Synthesize(_ context.Context, text, _ string, settings client.VoiceSettings) (*client.SpeechAudio, error) {
	words := len(strings.Fields(text))
	seconds := float64(words) / 2.5
	if settings.Speed > 0 {
		seconds /= settings.Speed
	}
	if seconds < 1 {
		seconds = 1
	}
	return &client.SpeechAudio{Data: silentWAV(seconds), ContentType: "audio/wav"}, nil
}

// silentWAV encodes 8 kHz mono 8-bit PCM silence.
func silentWAV(seconds float64) []byte {
	samples := int(seconds * mockSampleRate)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+samples))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(mockSampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(mockSampleRate)) // byte rate
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))              // block align
	_ = binary.Write(&buf, binary.LittleEndian, uint16(8))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(samples))
	buf.Write(bytes.Repeat([]byte{0x80}, samples))
	return buf.Bytes()
}

// MockRenderBackend finishes every render after a few progress polls.
type MockRenderBackend struct {
	// OutputBaseURL prefixes the reported output file.
	OutputBaseURL string
	// Steps is the number of polls before completion.
	Steps int

	mu     sync.Mutex
	polls  map[string]int
	output map[string]string
}

func (m *MockRenderBackend) Submit(_ context.Context, req *client.RenderRequest) (*client.RenderSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.polls == nil {
		m.polls = make(map[string]int)
		m.output = make(map[string]string)
	}

	id := uuid.New().String()
	m.polls[id] = 0
	key := req.OutputKey
	if key == "" {
		key = id + ".mp4"
	}
	m.output[id] = strings.TrimRight(m.OutputBaseURL, "/") + "/" + key
	return &client.RenderSubmission{RenderID: id, Bucket: "mock"}, nil
}

func (m *MockRenderBackend) Progress(_ context.Context, renderID string) (*client.RenderProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	polls, ok := m.polls[renderID]
	if !ok {
		return nil, fmt.Errorf("mock render %s not found", renderID)
	}
	steps := m.Steps
	if steps < 1 {
		steps = 4
	}
	polls++
	m.polls[renderID] = polls

	if polls >= steps {
		return &client.RenderProgress{OverallProgress: 1, Done: true, OutputURL: m.output[renderID]}, nil
	}
	return &client.RenderProgress{OverallProgress: float64(polls) / float64(steps)}, nil
}
