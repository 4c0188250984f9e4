package vcal

import (
	"bufio"
	"io"
)

// ContentLine is a single unfolded iCalendar content line.
type ContentLine string

// CalendarStream reads content lines from an iCalendar stream.  Lines in
// an iCalendar file are "folded" by inserting CRLF followed by a single
// whitespace (RFC 5545 section 3.1); this type hides that detail by
// returning unfolded lines.
type CalendarStream struct {
	r io.Reader
	b *bufio.Reader
}

// NewCalendarStream wraps r so the caller can read unfolded content lines.
func NewCalendarStream(r io.Reader) *CalendarStream {
	return &CalendarStream{
		r: r,
		b: bufio.NewReader(r),
	}
}

// ReadLine reads the next unfolded content line from the stream.  The
// returned ContentLine does not include the terminating newline sequence.
func (cs *CalendarStream) ReadLine() (*ContentLine, error) {
	r := []byte{}
	c := true
	var err error
	for c {
		var b []byte
		b, err = cs.b.ReadBytes('\n')
		switch {
		case len(b) == 0:
			if err == nil {
				continue
			}
			c = false
		case b[len(b)-1] == '\n':
			o := 1
			if len(b) > 1 && b[len(b)-2] == '\r' {
				o = 2
			}
			p, err := cs.b.Peek(1)
			r = append(r, b[:len(b)-o]...)
			if err == io.EOF {
				c = false
			}
			switch {
			case len(p) == 0:
				c = false
			case p[0] == ' ' || p[0] == '\t':
				_, _ = cs.b.Discard(1)
			default:
				c = false
			}
		default:
			r = append(r, b...)
		}
		switch err {
		case nil:
			if len(r) == 0 {
				c = true
			}
		case io.EOF:
			c = false
		default:
			return nil, err
		}
	}
	if len(r) == 0 && err != nil {
		return nil, err
	}
	cl := ContentLine(r)
	return &cl, err
}
