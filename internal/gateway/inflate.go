package gateway

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/klauspost/compress/zlib"
)

// inflater decodes a zlib-stream transport: one zlib context spans every
// binary message of a connection and each message ends on a sync flush.
// Decoded frames are handed to emit in order on the inflater's goroutine.
type inflater struct {
	pw   *io.PipeWriter
	done chan struct{}
}

func newInflater(emit func(json.RawMessage)) *inflater {
	pr, pw := io.Pipe()
	i := &inflater{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(i.done)
		zr, err := zlib.NewReader(pr)
		if err != nil {
			pr.CloseWithError(err)
			return
		}
		defer zr.Close()
		dec := json.NewDecoder(zr)
		for {
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					pr.CloseWithError(err)
					return
				}
				pr.Close()
				return
			}
			emit(raw)
		}
	}()
	return i
}

// Write feeds one compressed message. It returns once the decoder has
// consumed every byte.
func (i *inflater) Write(p []byte) error {
	_, err := i.pw.Write(p)
	return err
}

// Close ends the stream and waits until every frame decoded from the data
// written so far has been emitted.
func (i *inflater) Close() {
	i.pw.Close()
	<-i.done
}
