// Package tone synthesises the buzzer: a fixed-pitch square wave that is
// either sounding or silent.
package tone

const (
	DefaultSampleRate = 44100
	DefaultFrequency  = 440
	DefaultAmplitude  = 6000
)

// Square produces signed samples of a square wave. The phase carries over
// between calls to Fill so consecutive buffers join without clicks.
type Square struct {
	SampleRate int
	Frequency  int
	Amplitude  int

	phase int
}

func NewSquare(sampleRate int) *Square {
	return &Square{
		SampleRate: sampleRate,
		Frequency:  DefaultFrequency,
		Amplitude:  DefaultAmplitude,
	}
}

// SamplesPerFrame is the number of samples covering one tick at timerHz.
func (s *Square) SamplesPerFrame(timerHz int) int {
	return s.SampleRate / timerHz
}

// Fill writes len(buf) samples. When on is false the buffer is silent and
// the wave restarts at the next tone.
func (s *Square) Fill(buf []int, on bool) {
	if !on {
		clear(buf)
		s.phase = 0
		return
	}

	halfPeriod := max(s.SampleRate/(2*s.Frequency), 1)
	for i := range buf {
		if (s.phase/halfPeriod)%2 == 0 {
			buf[i] = s.Amplitude
		} else {
			buf[i] = -s.Amplitude
		}

		s.phase++
		if s.phase == 2*halfPeriod {
			s.phase = 0
		}
	}
}
