package progress

import "context"

// Sink receives every published update out-of-band (logging, metrics,
// persistence). Implementations must be safe for concurrent use and must not
// block the publishing pipeline for long.
type Sink interface {
	Record(ctx context.Context, upd Update) error
	Close(ctx context.Context) error
}

// Fanout forwards updates to a fixed set of sinks, ignoring nil entries.
type Fanout struct {
	sinks []Sink
}

// NewFanout builds a Fanout over the provided sinks.
func NewFanout(sinks ...Sink) *Fanout {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Fanout{sinks: out}
}

// Record forwards to every sink; the first error is returned after all sinks
// have been attempted.
func (f *Fanout) Record(ctx context.Context, upd Update) error {
	var first error
	for _, s := range f.sinks {
		if err := s.Record(ctx, upd); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every sink.
func (f *Fanout) Close(ctx context.Context) error {
	var first error
	for _, s := range f.sinks {
		if err := s.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
