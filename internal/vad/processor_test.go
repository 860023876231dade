package vad

import (
	"math"
	"testing"
	"time"

	"github.com/skypro1111/voice-intent-client/internal/audio"
)

func tone(sampleRate int, d time.Duration, amplitude float64) []float32 {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name      string
		threshold float32
		window    time.Duration
		reference float64
		expectErr bool
	}{
		{name: "valid parameters", threshold: 0.5, window: 30 * time.Millisecond, reference: 0.1},
		{name: "threshold too low", threshold: -0.1, window: 30 * time.Millisecond, reference: 0.1, expectErr: true},
		{name: "threshold too high", threshold: 1.1, window: 30 * time.Millisecond, reference: 0.1, expectErr: true},
		{name: "zero window", threshold: 0.5, window: 0, reference: 0.1, expectErr: true},
		{name: "zero reference", threshold: 0.5, window: 30 * time.Millisecond, reference: 0, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.threshold, tt.window, tt.reference)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestAnalyzeSilence(t *testing.T) {
	processor, err := NewProcessor(0.5, 30*time.Millisecond, 0.1)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	act, err := processor.Analyze(&audio.DecodedAudio{
		SampleRate: 16000,
		Channels:   [][]float32{make([]float32, 16000)},
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if act.HasSpeech() {
		t.Error("Expected no speech in silence")
	}

	if act.Windows != 34 {
		t.Errorf("Expected 34 windows, got %d", act.Windows)
	}

	if len(act.Segments) != 0 {
		t.Errorf("Expected no segments, got %d", len(act.Segments))
	}
}

func TestAnalyzeToneBetweenSilence(t *testing.T) {
	processor, err := NewProcessor(0.5, 30*time.Millisecond, 0.1)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	samples := make([]float32, 0, 48000)
	samples = append(samples, make([]float32, 16000)...)
	samples = append(samples, tone(16000, time.Second, 0.5)...)
	samples = append(samples, make([]float32, 16000)...)

	act, err := processor.Analyze(&audio.DecodedAudio{SampleRate: 16000, Channels: [][]float32{samples}})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(act.Segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(act.Segments))
	}

	seg := act.Segments[0]
	if seg.Start < 950*time.Millisecond || seg.Start > time.Second {
		t.Errorf("Expected segment to start near 1s, got %v", seg.Start)
	}

	if seg.End < 2*time.Second || seg.End > 2100*time.Millisecond {
		t.Errorf("Expected segment to end near 2s, got %v", seg.End)
	}

	if act.SpeechRatio < 0.3 || act.SpeechRatio > 0.4 {
		t.Errorf("Expected speech ratio near 1/3, got %f", act.SpeechRatio)
	}

	if math.Abs(act.PeakRMS-0.5/math.Sqrt2) > 0.01 {
		t.Errorf("Expected peak RMS near %f, got %f", 0.5/math.Sqrt2, act.PeakRMS)
	}

	stats := processor.GetStats()
	if stats.Recordings != 1 {
		t.Errorf("Expected 1 recording, got %d", stats.Recordings)
	}

	if stats.VoiceWindows != uint64(act.VoiceWindows) {
		t.Errorf("Expected %d voice windows, got %d", act.VoiceWindows, stats.VoiceWindows)
	}
}

func TestAnalyzeInvalidSampleRate(t *testing.T) {
	processor, _ := NewProcessor(0.5, 30*time.Millisecond, 0.1)

	if _, err := processor.Analyze(&audio.DecodedAudio{Channels: [][]float32{{0}}}); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestUpdateThresholdAndReset(t *testing.T) {
	processor, _ := NewProcessor(0.5, 30*time.Millisecond, 0.1)

	if err := processor.UpdateThreshold(0.8); err != nil {
		t.Fatalf("UpdateThreshold failed: %v", err)
	}

	if processor.GetThreshold() != 0.8 {
		t.Errorf("Expected threshold 0.8, got %f", processor.GetThreshold())
	}

	if err := processor.UpdateThreshold(1.5); err == nil {
		t.Error("Expected error for invalid threshold")
	}

	processor.Analyze(&audio.DecodedAudio{SampleRate: 8000, Channels: [][]float32{tone(8000, time.Second, 0.9)}})
	processor.Reset()

	stats := processor.GetStats()
	if stats.Recordings != 0 || stats.TotalWindows != 0 {
		t.Errorf("Expected stats to be reset, got %+v", stats)
	}
}
