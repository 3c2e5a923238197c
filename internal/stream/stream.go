package stream

import (
	"context"
	"errors"
	"io"
)

// Fragment is one piece of content delivered by a Source. Done marks the
// termination sentinel; it carries no content and is never decoded.
type Fragment struct {
	Content string
	Done    bool
}

// Source yields fragments in order. It returns io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) (Fragment, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Fragment, error)

func (f SourceFunc) Next(ctx context.Context) (Fragment, error) { return f(ctx) }

type sliceSource struct {
	frags []string
	pos   int
}

// SliceSource replays fixed fragments.
func SliceSource(frags ...string) Source {
	return &sliceSource{frags: frags}
}

func (s *sliceSource) Next(ctx context.Context) (Fragment, error) {
	if err := ctx.Err(); err != nil {
		return Fragment{}, err
	}
	if s.pos >= len(s.frags) {
		return Fragment{}, io.EOF
	}
	f := s.frags[s.pos]
	s.pos++
	return Fragment{Content: f}, nil
}

type concatSource struct {
	srcs []Source
}

// Concat drains each source in turn. A Done fragment from an inner source
// only ends that source.
func Concat(srcs ...Source) Source {
	return &concatSource{srcs: srcs}
}

func (c *concatSource) Next(ctx context.Context) (Fragment, error) {
	for len(c.srcs) > 0 {
		f, err := c.srcs[0].Next(ctx)
		if errors.Is(err, io.EOF) || (err == nil && f.Done) {
			closeSource(c.srcs[0])
			c.srcs = c.srcs[1:]
			continue
		}
		return f, err
	}
	return Fragment{}, io.EOF
}

func (c *concatSource) Close() error {
	var errs []error
	for _, s := range c.srcs {
		if err := closeSource(s); err != nil {
			errs = append(errs, err)
		}
	}
	c.srcs = nil
	return errors.Join(errs...)
}

func closeSource(s Source) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Stream pulls fragments from a Source through a Decoder and hands out events
// one at a time. Once the source ends, Next returns io.EOF; any other source
// error is returned after the buffered content has been flushed.
type Stream struct {
	src     Source
	dec     *Decoder
	pending []Event
	err     error
}

func NewStream(src Source, opts ...Option) *Stream {
	return &Stream{src: src, dec: NewDecoder(opts...)}
}

func (s *Stream) Next(ctx context.Context) (Event, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return Event{}, s.err
		}
		f, err := s.src.Next(ctx)
		switch {
		case err != nil:
			s.pending = s.dec.Flush()
			if errors.Is(err, io.EOF) {
				err = io.EOF
			}
			s.err = err
		case f.Done:
			s.pending = s.dec.Flush()
			s.err = io.EOF
		default:
			s.pending = s.dec.Feed(f.Content)
		}
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

// Close releases the underlying source.
func (s *Stream) Close() error {
	if s.err == nil {
		s.err = io.EOF
	}
	return closeSource(s.src)
}

// Collect drains s. The returned error is nil when the stream ended normally.
func Collect(ctx context.Context, s *Stream) ([]Event, error) {
	var out []Event
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

// Decode runs a whole text through a fresh decoder.
func Decode(text string, opts ...Option) []Event {
	d := NewDecoder(opts...)
	return append(d.Feed(text), d.Flush()...)
}
