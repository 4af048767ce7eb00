package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxLineBytes bounds a single reaction line.
const DefaultMaxLineBytes = 10 * 1024 * 1024

var (
	// ErrInvalidReaction marks a JSON line that looks like a reaction but breaks the protocol.
	ErrInvalidReaction = errors.New("invalid reaction")
	// ErrLineTooLong marks a line longer than the decoder's limit. The line is
	// dropped and decoding resumes at the next one.
	ErrLineTooLong = errors.New("line too long")
)

// Decoder reads reactions from a script's stdout.
type Decoder struct {
	r       *bufio.Reader
	maxLine int
	line    []byte
}

// NewDecoder returns a Decoder reading lines of at most maxLine bytes from r.
func NewDecoder(r io.Reader, maxLine int) *Decoder {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &Decoder{r: bufio.NewReaderSize(r, min(maxLine, 64*1024)), maxLine: maxLine}
}

// Next returns the next reaction, or the raw line when the line is plain output.
// Exactly one of the two is non-nil on success. Invalid reactions and
// oversized lines are returned with an error wrapping ErrInvalidReaction or
// ErrLineTooLong; the caller may keep reading. Next returns io.EOF when the
// stream ends.
func (d *Decoder) Next() (*Reaction, []byte, error) {
	for {
		raw, err := d.readLine()
		if err != nil {
			return nil, nil, err
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		if line[0] != '{' {
			return nil, append([]byte(nil), line...), nil
		}

		var probe struct {
			Type *Type `json:"type"`
		}
		if err := json.Unmarshal(line, &probe); err != nil || probe.Type == nil {
			// JSON-ish output that isn't addressed to us.
			return nil, append([]byte(nil), line...), nil
		}

		var r Reaction
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidReaction, err)
		}
		if err := r.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidReaction, err)
		}
		return &r, nil, nil
	}
}

// readLine returns the next line without its terminator. A line over the
// limit is consumed to its end and reported as ErrLineTooLong.
func (d *Decoder) readLine() ([]byte, error) {
	d.line = d.line[:0]
	dropped := 0
	for {
		chunk, err := d.r.ReadSlice('\n')
		chunk = bytes.TrimSuffix(chunk, []byte{'\n'})
		if dropped == 0 && len(d.line)+len(chunk) <= d.maxLine {
			d.line = append(d.line, chunk...)
		} else {
			dropped += len(d.line) + len(chunk)
			d.line = d.line[:0]
		}

		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(d.line) == 0 && dropped == 0 {
				return nil, io.EOF
			}
		default:
			return nil, fmt.Errorf("read reactions: %w", err)
		}

		if dropped > 0 {
			return nil, fmt.Errorf("%w: dropped %d bytes, limit is %d", ErrLineTooLong, dropped, d.maxLine)
		}
		return d.line, nil
	}
}

// EncodeReaction writes r to w as a single line.
func EncodeReaction(w io.Writer, r *Reaction) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("encode reaction: %w", err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode reaction: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write reaction: %w", err)
	}
	return nil
}
