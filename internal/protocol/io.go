package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/kaptinlin/jsonrepair"
)

// ErrLineTooLong signals a fatal framing violation: a line exceeded
// MaxLineLength. The caller must exit the process non-zero (§4.2).
var ErrLineTooLong = &SidecarError{Kind: KindInternal, Message: "line exceeds maximum length"}

// LineReader reads NDJSON requests from an underlying stream, applying
// the 1 MiB line cap and skipping blank lines (§4.1).
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader wraps r with a scanner sized for MaxLineLength plus a
// small margin for the newline itself.
func NewLineReader(r io.Reader) *LineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxLineLength+1)
	return &LineReader{scanner: s}
}

// ReadRequest returns the next non-blank parsed Request, or io.EOF when
// the stream ends cleanly, or ErrLineTooLong on an oversized line.
// A line that fails strict JSON decoding gets one best-effort repair
// pass (tolerant ingestion, not a protocol change) before surfacing a
// parse error to the caller as a *Request==nil, *SidecarError pair.
func (lr *LineReader) ReadRequest() (*Request, *SidecarError, error) {
	for {
		if !lr.scanner.Scan() {
			if err := lr.scanner.Err(); err != nil {
				if err == bufio.ErrTooLong {
					return nil, nil, ErrLineTooLong
				}
				return nil, nil, err
			}
			return nil, nil, io.EOF
		}
		line := bytes.TrimSpace(lr.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if len(line) > MaxLineLength {
			return nil, nil, ErrLineTooLong
		}
		req, se := ParseRequest(line)
		if se != nil {
			if repaired, rerr := jsonrepair.JSONRepair(string(line)); rerr == nil {
				if req2, se2 := ParseRequest([]byte(repaired)); se2 == nil {
					return req2, nil, nil
				}
			}
			return nil, se, nil
		}
		return req, nil, nil
	}
}

// Writer serializes all outbound frames (responses and notifications)
// through one mutex so a concurrently-running long method's progress
// events never interleave mid-line with a response (§5, §9).
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) WriteResponse(resp *Response) error {
	return w.writeLine(resp)
}

func (w *Writer) WriteNotification(n *Notification) error {
	return w.writeLine(n)
}

func (w *Writer) writeLine(v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(buf)
	return err
}
