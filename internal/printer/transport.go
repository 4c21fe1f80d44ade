package printer

import (
	"context"
	"time"
)

const (
	DefaultChunkSize  = 128
	DefaultChunkDelay = 5 * time.Millisecond
)

// Sink accepts one chunk at a time. Send must not return until the chunk
// has been handed to the device.
type Sink interface {
	Send(chunk []byte) error
}

// Transport fragments payloads into fixed size chunks and paces them
type Transport struct {
	ChunkSize int
	Delay     time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewTransport(chunkSize int, delay time.Duration) *Transport {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if delay < 0 {
		delay = 0
	}
	return &Transport{ChunkSize: chunkSize, Delay: delay, sleep: sleepCtx}
}

// Write sends data in order, waiting Delay after every chunk. The first
// failed chunk stops the write and is returned as a *WriteError.
func (t *Transport) Write(ctx context.Context, sink Sink, data []byte) error {
	for off := 0; off < len(data); off += t.ChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+t.ChunkSize, len(data))
		if err := sink.Send(data[off:end]); err != nil {
			return &WriteError{Offset: off, Err: err}
		}
		if t.Delay > 0 {
			if err := t.sleep(ctx, t.Delay); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteJob writes each segment of a job in order, chunking each one on
// its own. Nothing already sent is rolled back on failure.
func (t *Transport) WriteJob(ctx context.Context, sink Sink, job [][]byte) error {
	for _, segment := range job {
		if err := t.Write(ctx, sink, segment); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
