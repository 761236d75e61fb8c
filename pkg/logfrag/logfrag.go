// Zaparoo Core
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Core.
//
// Zaparoo Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Core.  If not, see <http://www.gnu.org/licenses/>.

// Package logfrag implements a log4j-event-XML-fragment parser shared
// between the running-process stdout/stderr pumps and the
// historical-file rehydrator: a resumable feed that accepts arbitrary
// byte chunks and emits complete entries, buffering an incomplete
// trailing fragment across calls. The wire format is a bare
// concatenation of fragments shaped like:
//
//	<log4j:Event logger="..." timestamp="<ms>" level="INFO" thread="N/A">
//	  <log4j:Message><![CDATA[<msg>]]></log4j:Message>
//	</log4j:Event>
//
// Lines that do not parse as a fragment are emitted as plaintext entries
// at Info level, matching how a raw (non-log4j) Minecraft/Forge line is
// handled.
package logfrag

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
)

// Level is one of the five log4j severity levels a LogEntry carries.
type Level int

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
)

func parseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "TRACE":
		return Trace
	case "DEBUG":
		return Debug
	case "WARN", "WARNING":
		return Warn
	case "ERROR", "FATAL":
		return Error
	default:
		return Info
	}
}

// Entry is one parsed log line, independent of which Source (system,
// stdout, stderr) it came from; the caller tags that.
type Entry struct {
	Logger      string
	Message     string
	Thread      string
	Level       Level
	TimestampMs int64
}

type xmlEvent struct {
	XMLName   xml.Name `xml:"Event"`
	Logger    string   `xml:"logger,attr"`
	Timestamp string   `xml:"timestamp,attr"`
	Level     string   `xml:"level,attr"`
	Thread    string   `xml:"thread,attr"`
	Message   struct {
		CDATA string `xml:",cdata"`
	} `xml:"Message"`
}

// eventOpen/eventClose bound one fragment in the concatenated stream;
// fragments are not separated by anything else the format guarantees, so
// the parser scans for this literal pair rather than depending on a
// surrounding root element, since there is none.
const (
	eventOpen  = "<log4j:Event"
	eventClose = "</log4j:Event>"
)

// Processor is a resumable, stateful fragment parser: Feed may be called
// with arbitrary byte chunks (a child process's stdout read buffer, or a
// historical file's full contents) and returns every entry fully present
// in the accumulated buffer, retaining any trailing partial fragment for
// the next call. One Processor must be used per log stream.
type Processor struct {
	buf bytes.Buffer
}

// NewProcessor constructs an empty Processor.
func NewProcessor() *Processor { return &Processor{} }

// Feed appends data to the processor's internal buffer and returns every
// complete entry (log4j fragment or plain line) now available. Partial
// trailing content remains buffered until a terminator arrives.
func (p *Processor) Feed(data []byte) []Entry {
	p.buf.Write(data)
	return p.drain(false)
}

// Flush forces the processor to treat any buffered content as complete,
// used when the stream has ended (process exit, EOF on a historical
// file) and no further terminator will arrive.
func (p *Processor) Flush() []Entry {
	return p.drain(true)
}

func (p *Processor) drain(final bool) []Entry {
	var entries []Entry
	for {
		content := p.buf.Bytes()

		if idx := bytes.Index(content, []byte(eventOpen)); idx == 0 || (idx > 0 && onlyWhitespace(content[:idx])) {
			endIdx := bytes.Index(content, []byte(eventClose))
			if endIdx < 0 {
				if final {
					// No terminator ever arriving: drop the dangling
					// fragment rather than emit a truncated XML blob.
					p.buf.Reset()
				}
				break
			}
			frag := content[idx : endIdx+len(eventClose)]
			if e, ok := parseFragment(frag); ok {
				entries = append(entries, e)
			}
			p.buf.Next(endIdx + len(eventClose))
			continue
		}

		nl := bytes.IndexByte(content, '\n')
		if nl < 0 {
			if final && len(content) > 0 {
				entries = append(entries, plainEntry(string(content)))
				p.buf.Reset()
			}
			break
		}
		line := content[:nl]
		p.buf.Next(nl + 1)
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			entries = append(entries, plainEntry(string(trimmed)))
		}
	}
	return entries
}

func onlyWhitespace(b []byte) bool { return len(bytes.TrimSpace(b)) == 0 }

func parseFragment(frag []byte) (Entry, bool) {
	var ev xmlEvent
	if err := xml.Unmarshal(frag, &ev); err != nil {
		return Entry{}, false
	}
	ts, _ := strconv.ParseInt(ev.Timestamp, 10, 64)
	return Entry{
		Logger:      ev.Logger,
		Message:     ev.Message.CDATA,
		Thread:      ev.Thread,
		Level:       parseLevel(ev.Level),
		TimestampMs: ts,
	}, true
}

func plainEntry(line string) Entry {
	return Entry{Logger: "STDOUT", Message: line, Thread: "N/A", Level: Info}
}

// FormatSystemEntry renders msg as a system-log log4j fragment, used for
// the core's own synthetic entries (launch readiness lines, exit-code
// records).
func FormatSystemEntry(timestampMs int64, msg string) string {
	var b strings.Builder
	b.WriteString(`<log4j:Event logger="GDLAUNCHER" timestamp="`)
	b.WriteString(strconv.FormatInt(timestampMs, 10))
	b.WriteString(`" level="INFO" thread="N/A"><log4j:Message><![CDATA[`)
	b.WriteString(msg)
	b.WriteString(`]]></log4j:Message></log4j:Event>` + "\n")
	return b.String()
}
