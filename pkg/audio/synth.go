package audio

import (
	"encoding/binary"
	"io"
	"math"
	"time"
)

// SampleRate of synthesized audio
const SampleRate = 22050

// Burst is one tone of a chime
type Burst struct {
	Frequency float64       `json:"frequency"`
	Duration  time.Duration `json:"duration"`
	// Gap is the silence after the burst
	Gap time.Duration `json:"gap"`
}

// Chime is a sequence of bursts
type Chime []Burst

// DefaultChime is three short bursts at increasing pitch
func DefaultChime() Chime {
	return Chime{
		{Frequency: 660, Duration: 140 * time.Millisecond, Gap: 60 * time.Millisecond},
		{Frequency: 880, Duration: 140 * time.Millisecond, Gap: 60 * time.Millisecond},
		{Frequency: 1175, Duration: 220 * time.Millisecond},
	}
}

// Duration is the total length of the chime including gaps
func (c Chime) Duration() time.Duration {
	var d time.Duration
	for _, b := range c {
		d += b.Duration + b.Gap
	}
	return d
}

// Oscillator produces one sample for time t (seconds) at frequency f
type Oscillator func(f, t float64) float64

// Sine is a pure tone
func Sine(f, t float64) float64 {
	return math.Sin(2 * math.Pi * f * t)
}

// Bell adds a quieter octave partial for a brighter tone
func Bell(f, t float64) float64 {
	return 0.8*Sine(f, t) + 0.2*Sine(2*f, t)
}

// envelope ramps the first and last attack seconds of a burst to avoid clicks
func envelope(t, length, attack float64) float64 {
	switch {
	case t < attack:
		return t / attack
	case t > length-attack:
		return math.Max(0, (length-t)/attack)
	default:
		return 1
	}
}

func samplesFor(d time.Duration) int {
	return int(d.Seconds() * SampleRate)
}

// Synthesize renders the chime as 16-bit mono PCM at volume 0..1
func Synthesize(c Chime, osc Oscillator, volume float64) []int16 {
	if osc == nil {
		osc = Bell
	}
	volume = math.Max(0, math.Min(1, volume))

	out := make([]int16, 0, samplesFor(c.Duration()))
	for _, b := range c {
		n := samplesFor(b.Duration)
		length := b.Duration.Seconds()
		for i := 0; i < n; i++ {
			t := float64(i) / SampleRate
			v := osc(b.Frequency, t) * envelope(t, length, 0.01) * volume
			out = append(out, int16(v*math.MaxInt16))
		}
		out = append(out, make([]int16, samplesFor(b.Gap))...)
	}
	return out
}

// WriteWAV writes samples as a RIFF/WAVE file
func WriteWAV(w io.Writer, samples []int16) error {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(samples) * 2)
	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1), // PCM
		uint16(channels),
		uint32(SampleRate),
		uint32(SampleRate * channels * bitsPerSample / 8),
		uint16(channels * bitsPerSample / 8),
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, samples)
}
