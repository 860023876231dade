package vad

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/skypro1111/voice-intent-client/internal/audio"
)

// Processor provides energy-based voice activity detection over decoded audio
type Processor struct {
	threshold      float32
	window         time.Duration
	referenceLevel float64 // RMS that maps to probability 1.0
	smoothing      float32 // weight of the newest window

	// Statistics
	recordings    uint64
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Segment is a continuous run of voiced windows, as offsets from the start
// of the recording.
type Segment struct {
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float32       `json:"confidence"`
}

// Duration returns the segment length.
func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

// Activity summarises voice activity in one recording
type Activity struct {
	Windows        int           `json:"windows"`
	VoiceWindows   int           `json:"voice_windows"`
	SpeechRatio    float64       `json:"speech_ratio"`
	PeakRMS        float64       `json:"peak_rms"`
	Speech         time.Duration `json:"speech"`
	Segments       []Segment     `json:"segments"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// HasSpeech reports whether any window was classified as voiced.
func (a Activity) HasSpeech() bool {
	return a.VoiceWindows > 0
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	Recordings      uint64    `json:"recordings"`
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, window time.Duration, referenceLevel float64) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %v", window)
	}

	if referenceLevel <= 0 || referenceLevel > 1 {
		return nil, fmt.Errorf("reference level must be in (0, 1], got %f", referenceLevel)
	}

	return &Processor{
		threshold:      threshold,
		window:         window,
		referenceLevel: referenceLevel,
		smoothing:      0.6,
	}, nil
}

// Analyze mixes the recording down to mono and classifies each window.
func (p *Processor) Analyze(d *audio.DecodedAudio) (Activity, error) {
	startTime := time.Now()

	if d.SampleRate <= 0 {
		return Activity{}, fmt.Errorf("sample rate must be positive, got %d", d.SampleRate)
	}

	p.mu.RLock()
	threshold := p.threshold
	p.mu.RUnlock()

	windowSize := int(int64(d.SampleRate) * int64(p.window) / int64(time.Second))
	if windowSize < 1 {
		windowSize = 1
	}

	mono := d.MixDown()
	offset := func(sample int) time.Duration {
		return time.Duration(sample) * time.Second / time.Duration(d.SampleRate)
	}

	var (
		act     Activity
		last    float32
		current *Segment
		voiced  int
	)

	for start := 0; start < len(mono); start += windowSize {
		end := min(start+windowSize, len(mono))
		rms := windowRMS(mono[start:end])
		act.PeakRMS = math.Max(act.PeakRMS, rms)

		probability := float32(math.Min(rms/p.referenceLevel, 1))
		if act.Windows > 0 {
			probability = p.smoothing*probability + (1-p.smoothing)*last
		}
		last = probability
		act.Windows++

		if probability >= threshold {
			act.VoiceWindows++
			act.Speech += offset(end - start)
			confidence := confidenceOf(probability, threshold)
			if current == nil {
				current = &Segment{Start: offset(start), Confidence: confidence}
				voiced = 1
			} else {
				voiced++
				current.Confidence += (confidence - current.Confidence) / float32(voiced)
			}
			current.End = offset(end)
		} else if current != nil {
			act.Segments = append(act.Segments, *current)
			current = nil
		}
	}

	if current != nil {
		act.Segments = append(act.Segments, *current)
	}

	if act.Windows > 0 {
		act.SpeechRatio = float64(act.VoiceWindows) / float64(act.Windows)
	}
	act.ProcessingTime = time.Since(startTime)

	p.mu.Lock()
	p.recordings++
	p.totalWindows += uint64(act.Windows)
	p.voiceWindows += uint64(act.VoiceWindows)
	p.lastProcessed = time.Now()
	p.mu.Unlock()

	return act, nil
}

func windowRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy / float64(len(samples)))
}

// confidence is higher the further the probability is from the threshold
func confidenceOf(probability, threshold float32) float32 {
	confidence := float32(math.Abs(float64(probability - threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}
	return confidence * 2
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		Recordings:      p.recordings,
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (p *Processor) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.threshold = threshold
	return nil
}

// Reset resets the processor statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recordings = 0
	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastProcessed = time.Time{}
}

// GetThreshold returns the current voice detection threshold
func (p *Processor) GetThreshold() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// GetWindow returns the analysis window length
func (p *Processor) GetWindow() time.Duration {
	return p.window
}
