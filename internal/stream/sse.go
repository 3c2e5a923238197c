package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joseph-ayodele/catalog-drafts/internal/common"
)

// Delta is the incremental message content of a chat completion chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Chunk is an OpenAI-style chat.completion.chunk.
type Chunk struct {
	ID      string        `json:"id,omitempty"`
	Object  string        `json:"object,omitempty"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices"`
}

// EncodeChunk renders content as one SSE data frame.
func EncodeChunk(content string) string {
	b, _ := json.Marshal(Chunk{Object: "chat.completion.chunk", Choices: []ChunkChoice{{Delta: Delta{Content: content}}}})
	return "data: " + string(b) + "\n\n"
}

// DoneFrame is the SSE frame that terminates a chat stream.
const DoneFrame = "data: " + DoneSentinel + "\n\n"

// StreamError is the body of an error frame. A stream that fails ends with an
// error frame instead of DoneFrame.
type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorFrame struct {
	Error *StreamError `json:"error"`
}

// EncodeError renders err as one SSE error frame.
func EncodeError(err error) string {
	se := StreamError{Code: common.ErrorCode(err), Message: err.Error()}
	var appErr *common.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		se.Message = appErr.Message
	}
	b, _ := json.Marshal(errorFrame{Error: &se})
	return "data: " + string(b) + "\n\n"
}

// SSEWriter writes chat chunks to a response, flushing after every frame.
type SSEWriter struct {
	w io.Writer
	f http.Flusher
}

func NewSSEWriter(w io.Writer) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, f: f}
}

func (s *SSEWriter) WriteChunk(content string) error {
	return s.write(EncodeChunk(content))
}

func (s *SSEWriter) WriteDone() error {
	return s.write(DoneFrame)
}

func (s *SSEWriter) WriteError(err error) error {
	return s.write(EncodeError(err))
}

func (s *SSEWriter) write(frame string) error {
	if _, err := io.WriteString(s.w, frame); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

// SSESource reads an SSE body of chat completion chunks. Data that is not a
// chunk is forwarded verbatim; lines without a field name count as data.
// "data: [DONE]" yields a Done fragment. An error frame, or a body that ends
// before "[DONE]", fails the source with a Transport error once the data read
// so far has been handed out.
type SSESource struct {
	r      *bufio.Reader
	closer io.Closer
	done   bool
	err    error
	eofOK  bool
}

func NewSSESource(r io.Reader) *SSESource {
	s := &SSESource{r: bufio.NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// NewLenientSSESource treats the end of the body as the end of the stream,
// for upstreams that never send "[DONE]".
func NewLenientSSESource(r io.Reader) *SSESource {
	s := NewSSESource(r)
	s.eofOK = true
	return s
}

// ErrTruncated marks a stream whose body ended before the "[DONE]" frame.
var ErrTruncated = common.NewTransportError("chat stream ended before "+DoneSentinel, io.ErrUnexpectedEOF)

func (s *SSESource) Next(ctx context.Context) (Fragment, error) {
	for {
		if s.err != nil {
			return Fragment{}, s.err
		}
		if s.done {
			return Fragment{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Fragment{}, err
		}
		data, err := s.readEvent()
		if err != nil && !errors.Is(err, io.EOF) {
			s.err = common.NewTransportError("read chat stream", err)
			return Fragment{}, s.err
		}
		if errors.Is(err, io.EOF) {
			s.done = true
			if !s.eofOK {
				s.err = ErrTruncated
			}
			if data == "" {
				continue
			}
		}
		if strings.TrimSpace(data) == DoneSentinel {
			s.done = true
			s.err = nil
			return Fragment{Done: true}, nil
		}
		if se, ok := frameError(data); ok {
			s.done = true
			if se.Code == common.CodeTransport {
				s.err = common.NewTransportError(se.Message, nil)
			} else {
				s.err = common.NewAppError(se.Code, se.Message, nil)
			}
			return Fragment{}, s.err
		}
		content, ok := chunkContent(data)
		if !ok {
			content = data
		}
		if content == "" {
			continue
		}
		return Fragment{Content: content}, nil
	}
}

func (s *SSESource) Close() error {
	s.done = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// readEvent returns the joined data lines of the next event. io.EOF is
// returned together with any trailing event that was not blank-line terminated.
func (s *SSESource) readEvent() (string, error) {
	var lines []string
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		eof := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(lines) > 0 || eof {
				return strings.Join(lines, "\n"), errOrNil(eof)
			}
			continue
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			v := strings.TrimPrefix(line, "data:")
			lines = append(lines, strings.TrimPrefix(v, " "))
		case strings.HasPrefix(line, "event:"), strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
		default:
			lines = append(lines, line)
		}
		if eof {
			return strings.Join(lines, "\n"), io.EOF
		}
	}
}

func errOrNil(eof bool) error {
	if eof {
		return io.EOF
	}
	return nil
}

func frameError(data string) (StreamError, bool) {
	trimmed := strings.TrimSpace(data)
	if !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, `"error"`) {
		return StreamError{}, false
	}
	var f errorFrame
	if err := json.Unmarshal([]byte(trimmed), &f); err != nil || f.Error == nil {
		return StreamError{}, false
	}
	se := *f.Error
	if se.Code == "" {
		se.Code = common.CodeTransport
	}
	return se, true
}

func chunkContent(data string) (string, bool) {
	trimmed := strings.TrimSpace(data)
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var c Chunk
	if err := json.Unmarshal([]byte(trimmed), &c); err != nil || c.Choices == nil {
		return "", false
	}
	var b strings.Builder
	for _, ch := range c.Choices {
		b.WriteString(ch.Delta.Content)
	}
	return b.String(), true
}
