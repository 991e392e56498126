// Package wavrec records the buzzer to a WAV file. Samples are buffered in
// memory for the whole run and written on Close, so it is meant for short
// sessions and tests rather than long recordings.
package wavrec

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/kapitanov/chip8core/internal/tone"
)

const (
	bitDepth    = 16
	numChannels = 1
	pcmFormat   = 1
)

// Recorder implements machine.AudioSink.
type Recorder struct {
	path   string
	square *tone.Square
	frame  []int
	data   []int
}

func New(path string, timerHz int) *Recorder {
	square := tone.NewSquare(tone.DefaultSampleRate)

	return &Recorder{
		path:   path,
		square: square,
		frame:  make([]int, square.SamplesPerFrame(timerHz)),
	}
}

// Tone appends one frame of tone or silence.
func (r *Recorder) Tone(on bool) error {
	r.square.Fill(r.frame, on)
	r.data = append(r.data, r.frame...)
	return nil
}

// Close writes everything recorded so far.
func (r *Recorder) Close() (rerr error) {
	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("wavrec: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("wavrec: %w", err)
		}
	}()

	enc := wav.NewEncoder(f, r.square.SampleRate, bitDepth, numChannels, pcmFormat)

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: numChannels,
			SampleRate:  r.square.SampleRate,
		},
		Data:           r.data,
		SourceBitDepth: bitDepth,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavrec: unable to encode audio: %w", err)
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavrec: unable to finish %q: %w", r.path, err)
	}

	slog.Info("wavrec: audio written", "path", r.path, "samples", len(r.data))
	return nil
}
