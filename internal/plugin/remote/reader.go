// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package remote

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/spud-tui/spud/internal/plugin/protocol"
)

type readerEventKind int

const (
	readerRequest readerEventKind = iota
	readerProtocolError
	readerIOError
	readerEOF
)

type readerEvent struct {
	kind readerEventKind
	req  protocol.Request
	err  error
}

// readerQueueSize bounds how many decoded requests may wait for the pump.
const readerQueueSize = 16

// readRequests decodes one request per line from r until the stream ends or
// a line fails to decode. Every non-request event is the last one sent.
func readRequests(r io.Reader, out chan<- readerEvent, done <-chan struct{}) {
	send := func(ev readerEvent) bool {
		select {
		case out <- ev:
			return true
		case <-done:
			return false
		}
	}

	br := bufio.NewReader(r)
	for {
		line, readErr := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			req, err := protocol.DecodeRequest(trimmed)
			if err != nil {
				send(readerEvent{kind: readerProtocolError, err: err})
				return
			}
			if !send(readerEvent{kind: readerRequest, req: req}) {
				return
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				send(readerEvent{kind: readerEOF})
			} else {
				send(readerEvent{kind: readerIOError, err: readErr})
			}
			return
		}
	}
}
