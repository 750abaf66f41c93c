package sensor

import (
	"errors"

	"github.com/agrogo-wsu/field-agent/internal/rules"
)

// FakeReader is a test double that returns scripted readings.
type FakeReader struct {
	// Samples contains scripted readings. Each call to Read consumes
	// the next sample; once exhausted, the last sample repeats.
	Samples []rules.Reading

	// ReadError, if set, will be returned by Read.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool

	index int
	reads int
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples []rules.Reading) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted reading.
func (f *FakeReader) Read() (rules.Reading, error) {
	f.reads++
	if f.ReadError != nil {
		return rules.Reading{}, f.ReadError
	}
	if len(f.Samples) == 0 {
		return rules.Reading{}, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reads returns the number of Read calls.
func (f *FakeReader) Reads() int { return f.reads }

// Reset rewinds the reader to the first sample.
func (f *FakeReader) Reset() {
	f.index = 0
	f.reads = 0
	f.Closed = false
}
