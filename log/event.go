package log

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
	"unicode/utf8"
)

const timeFormat = "2006-01-02 15:04:05.000"

// LogEvent accumulates one JSON line. All methods are safe on a nil event,
// which is what a disabled level returns, so call chains need no checks.
type LogEvent struct {
	buf    bytes.Buffer
	level  Level
	logger Logger
}

func newEvent(logger Logger) *LogEvent {
	return &LogEvent{logger: logger}
}

// Reset clears the event for reuse.
func (e *LogEvent) Reset() {
	e.buf.Reset()
	e.buf.WriteByte('{')
}

func (e *LogEvent) key(k string) {
	if e.buf.Len() > 1 {
		e.buf.WriteByte(',')
	}
	appendJSONString(&e.buf, k)
	e.buf.WriteByte(':')
}

func (e *LogEvent) Str(key, val string) *LogEvent {
	if e == nil {
		return e
	}
	e.key(key)
	appendJSONString(&e.buf, val)
	return e
}

func (e *LogEvent) Int(key string, val int) *LogEvent {
	return e.Int64(key, int64(val))
}

func (e *LogEvent) Int64(key string, val int64) *LogEvent {
	if e == nil {
		return e
	}
	e.key(key)
	e.buf.Write(strconv.AppendInt(e.buf.AvailableBuffer(), val, 10))
	return e
}

func (e *LogEvent) Uint8(key string, val uint8) *LogEvent {
	return e.Uint64(key, uint64(val))
}

func (e *LogEvent) Uint16(key string, val uint16) *LogEvent {
	return e.Uint64(key, uint64(val))
}

func (e *LogEvent) Uint32(key string, val uint32) *LogEvent {
	return e.Uint64(key, uint64(val))
}

func (e *LogEvent) Uint64(key string, val uint64) *LogEvent {
	if e == nil {
		return e
	}
	e.key(key)
	e.buf.Write(strconv.AppendUint(e.buf.AvailableBuffer(), val, 10))
	return e
}

func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	if e == nil {
		return e
	}
	e.key(key)
	e.buf.Write(strconv.AppendBool(e.buf.AvailableBuffer(), val))
	return e
}

// Bytes writes val hex encoded.
func (e *LogEvent) Bytes(key string, val []byte) *LogEvent {
	if e == nil {
		return e
	}
	e.key(key)
	e.buf.WriteByte('"')
	e.buf.Write(hex.AppendEncode(e.buf.AvailableBuffer(), val))
	e.buf.WriteByte('"')
	return e
}

func (e *LogEvent) Time(key string, val *time.Time) *LogEvent {
	if e == nil || val == nil {
		return e
	}
	e.key(key)
	e.buf.WriteByte('"')
	e.buf.Write(val.AppendFormat(e.buf.AvailableBuffer(), timeFormat))
	e.buf.WriteByte('"')
	return e
}

func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	return e.Str(key, val.String())
}

// Err adds the error under "error". A nil error adds nothing.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil || err == nil {
		return e
	}
	return e.Str("error", err.Error())
}

// Any marshals val with encoding/json.
func (e *LogEvent) Any(key string, val any) *LogEvent {
	if e == nil {
		return e
	}
	data, err := json.Marshal(val)
	if err != nil {
		return e.Str(key, err.Error())
	}
	e.key(key)
	e.buf.Write(data)
	return e
}

// Msg finishes the event and hands it to the logger. The event must not be used afterwards.
func (e *LogEvent) Msg(msg string) {
	if e == nil {
		return
	}
	if msg != "" {
		e.Str("msg", msg)
	}
	e.buf.WriteString("}\n")
	e.logger.OnEventEnd(e)
}

// Send finishes the event without a message.
func (e *LogEvent) Send() {
	e.Msg("")
}

const hexDigits = "0123456789abcdef"

func appendJSONString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' && c < utf8.RuneSelf {
			i++
			continue
		}
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r != utf8.RuneError || size != 1 {
				i += size
				continue
			}
			buf.WriteString(s[start:i])
			buf.WriteString(`�`)
			i++
			start = i
			continue
		}
		buf.WriteString(s[start:i])
		switch c {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		}
		i++
		start = i
	}
	buf.WriteString(s[start:])
	buf.WriteByte('"')
}
