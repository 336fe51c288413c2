package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

// sinePCM generates little-endian PCM-16 bytes for a sine tone
func sinePCM(sampleRate int, seconds, frequency float64) []byte {
	numSamples := int(float64(sampleRate) * seconds)
	pcm := make([]byte, numSamples*2)

	for i := 0; i < numSamples; i++ {
		ts := float64(i) / float64(sampleRate)
		sample := int16(16383.0 * math.Sin(2*math.Pi*frequency*ts))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}

	return pcm
}

func TestWrapPCM(t *testing.T) {
	sampleRate := 8000
	pcm := sinePCM(sampleRate, 0.1, 440.0)

	wavData, err := WrapPCM(pcm, sampleRate)
	if err != nil {
		t.Fatalf("WrapPCM failed: %v", err)
	}

	expectedSize := 44 + len(pcm)
	if len(wavData) != expectedSize {
		t.Errorf("expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if info.DataSize != uint32(len(pcm)) {
		t.Errorf("expected data size %d, got %d", len(pcm), info.DataSize)
	}
}

func TestWrapPCMValidation(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
	}{
		{"empty data", nil, 16000},
		{"odd length", []byte{1, 2, 3}, 16000},
		{"zero sample rate", []byte{1, 2}, 0},
		{"negative sample rate", []byte{1, 2}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := WrapPCM(tt.pcm, tt.sampleRate); err == nil {
				t.Error("expected error but got none")
			}
		})
	}
}

func TestIsWAV(t *testing.T) {
	pcm := sinePCM(16000, 0.05, 440.0)
	wavData, err := WrapPCM(pcm, 16000)
	if err != nil {
		t.Fatalf("WrapPCM failed: %v", err)
	}

	if !IsWAV(wavData) {
		t.Error("expected wrapped data to be recognized as WAV")
	}
	if IsWAV(pcm) {
		t.Error("raw PCM should not be recognized as WAV")
	}
	if IsWAV([]byte("RIFF")) {
		t.Error("truncated header should not be recognized as WAV")
	}
}

func TestValidateWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"not RIFF", make([]byte, 44)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateWAV(tt.data); err == nil {
				t.Error("expected error but got none")
			}
		})
	}
}

func TestGetWAVDuration(t *testing.T) {
	sampleRate := 16000
	pcm := sinePCM(sampleRate, 0.5, 440.0)

	wavData, err := WrapPCM(pcm, sampleRate)
	if err != nil {
		t.Fatalf("WrapPCM failed: %v", err)
	}

	duration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}

	if math.Abs(duration-0.5) > 0.001 {
		t.Errorf("expected duration ~0.5s, got %f", duration)
	}
}
