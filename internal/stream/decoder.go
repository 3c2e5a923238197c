package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
)

const (
	maxInfoLen     = 64
	defaultMaxBody = 1 << 20
)

// DecodeError describes a closed fence whose body could not be decoded. The
// raw fence text is passed through as a text event.
type DecodeError struct {
	Tag string
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s fence: %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{common.ErrDecode, e.Err} }

// Option configures a Decoder.
type Option func(*Decoder)

// WithTags replaces the accepted fence info strings.
func WithTags(tags ...string) Option {
	return func(d *Decoder) {
		if len(tags) == 0 {
			return
		}
		d.tags = make(map[string]struct{}, len(tags))
		for _, t := range tags {
			d.tags[t] = struct{}{}
		}
	}
}

// WithDecodeErrorHandler observes fences that failed to decode.
func WithDecodeErrorHandler(fn func(*DecodeError)) Option {
	return func(d *Decoder) { d.onError = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMaxBody bounds the size of a fence body. A longer fence is abandoned and
// its opener passed through as text, whether or not its close has arrived.
func WithMaxBody(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxBody = n
		}
	}
}

// Decoder is an incremental scanner over a chat token stream. It is either
// scanning narrative text or inside a fence; any split of the input across
// Feed calls yields the same events once adjacent text is coalesced.
// A Decoder belongs to exactly one stream and is not safe for concurrent use.
type Decoder struct {
	tags    map[string]struct{}
	onError func(*DecodeError)
	logger  *slog.Logger
	maxBody int

	buf     string
	inFence bool
	tag     string
	open    string
}

func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		tags:    map[string]struct{}{DefaultTag: {}},
		logger:  slog.Default(),
		maxBody: defaultMaxBody,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Feed consumes the next fragment and returns every event it completed.
// Text is released as soon as it cannot be part of a fence opener.
func (d *Decoder) Feed(fragment string) []Event {
	d.buf += fragment
	return d.drain(false)
}

// Flush ends the stream. An unterminated fence comes back as plain text,
// never as a partial widget. The decoder is reset and may be reused.
func (d *Decoder) Flush() []Event {
	out := d.drain(true)
	d.buf, d.inFence, d.tag, d.open = "", false, "", ""
	return out
}

// Pending reports whether undecided input is buffered.
func (d *Decoder) Pending() bool {
	return d.buf != "" || d.inFence
}

func (d *Decoder) drain(eof bool) []Event {
	var out []Event
	emit := func(s string) {
		if s != "" {
			out = append(out, TextEvent(s))
		}
	}

	for {
		if d.inFence {
			body, consumed, ok := d.findClose()
			if !ok {
				if eof {
					emit(d.open + d.buf)
					d.buf, d.inFence, d.tag, d.open = "", false, "", ""
					return out
				}
				// a missing close leaves at most a partial marker at the tail,
				// so everything before it is already body
				if len(d.buf) > d.maxBody+len(fenceMarker) {
					d.abandon(emit)
					continue
				}
				return out
			}
			if len(body) > d.maxBody {
				d.abandon(emit)
				continue
			}

			raw := d.open + d.buf[:consumed]
			tag := d.tag
			d.buf = d.buf[consumed:]
			d.inFence, d.tag, d.open = false, "", ""

			ev, err := decodeWidget(tag, body)
			if err != nil {
				d.report(&DecodeError{Tag: tag, Raw: raw, Err: err})
				emit(raw)
				continue
			}
			out = append(out, ev)
			continue
		}

		buf := d.buf
		i := strings.Index(buf, fenceMarker)
		if i < 0 {
			keep := 0
			if !eof {
				keep = trailingBackticks(buf)
			}
			emit(buf[:len(buf)-keep])
			d.buf = buf[len(buf)-keep:]
			return out
		}

		emit(buf[:i])
		rest := buf[i+len(fenceMarker):]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			if !eof && d.couldBeOpener(rest) {
				d.buf = buf[i:]
				return out
			}
			emit(fenceMarker)
			d.buf = rest
			continue
		}

		info := strings.TrimSpace(rest[:nl])
		if _, ok := d.tags[info]; ok {
			d.inFence = true
			d.tag = info
			d.open = buf[i : i+len(fenceMarker)+nl+1]
			d.buf = rest[nl+1:]
			continue
		}
		// ordinary markdown fence; its marker is plain text
		emit(fenceMarker)
		d.buf = rest
	}
}

// abandon gives up on an oversized fence: its opener becomes text and the
// buffered body is scanned again as narrative.
func (d *Decoder) abandon(emit func(string)) {
	d.logger.Warn("stream.fence.too_large", "tag", d.tag, "max_body", d.maxBody)
	emit(d.open)
	d.inFence, d.tag, d.open = false, "", ""
}

// findClose locates the closing marker of the current fence.
func (d *Decoder) findClose() (body string, consumed int, ok bool) {
	if strings.HasPrefix(d.buf, fenceMarker) {
		return "", len(fenceMarker), true
	}
	if j := strings.Index(d.buf, "\n"+fenceMarker); j >= 0 {
		return d.buf[:j], j + 1 + len(fenceMarker), true
	}
	return "", 0, false
}

func (d *Decoder) couldBeOpener(info string) bool {
	if len(info) > maxInfoLen {
		return false
	}
	t := strings.TrimSpace(info)
	if t == "" {
		return true
	}
	for tag := range d.tags {
		if strings.HasPrefix(tag, t) {
			return true
		}
	}
	return false
}

func (d *Decoder) report(de *DecodeError) {
	d.logger.Warn("stream.widget.decode_failed", "tag", de.Tag, "bytes", len(de.Raw), "error", de.Err)
	if d.onError != nil {
		d.onError(de)
	}
}

func trailingBackticks(s string) int {
	n := 0
	for n < 2 && n < len(s) && s[len(s)-1-n] == '`' {
		n++
	}
	return n
}

func decodeWidget(tag, body string) (Event, error) {
	trimmed := bytes.TrimSpace([]byte(body))
	if len(trimmed) == 0 {
		return Event{}, errors.New("empty body")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Event{}, fmt.Errorf("body is not a JSON object: %w", err)
	}

	ev := Event{Type: EventWidget, Tag: tag, Kind: tag, Payload: compactJSON(trimmed)}
	var env WidgetEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return ev, nil
	}
	if env.WidgetType != "" {
		ev.Kind = env.WidgetType
	}
	if env.Type == "widget" && len(env.WidgetData) > 0 && string(env.WidgetData) != "null" {
		ev.Payload = compactJSON(env.WidgetData)
	}
	return ev, nil
}
