package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/cuemby/bellhop/pkg/events"
)

// Sink opens an output for one rendered chime
type Sink func(ctx context.Context) (io.WriteCloser, error)

// FileSink writes each chime to path, replacing the previous one
func FileSink(path string) Sink {
	return func(ctx context.Context) (io.WriteCloser, error) {
		return os.Create(path)
	}
}

// CommandSink pipes each chime into a player command such as "aplay -q"
func CommandSink(name string, args ...string) Sink {
	return func(ctx context.Context) (io.WriteCloser, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return &commandWriter{cmd: cmd, stdin: stdin}, nil
	}
}

type commandWriter struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (c *commandWriter) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *commandWriter) Close() error {
	if err := c.stdin.Close(); err != nil {
		return err
	}
	return c.cmd.Wait()
}

// WAVPlayer synthesizes chimes locally and writes them to a sink
type WAVPlayer struct {
	sink   Sink
	osc    Oscillator
	volume float64
}

// NewWAVPlayer creates a player at the given volume (0..1)
func NewWAVPlayer(sink Sink, volume float64) *WAVPlayer {
	return &WAVPlayer{sink: sink, osc: Bell, volume: volume}
}

// Unlock checks that the sink can be opened
func (p *WAVPlayer) Unlock(ctx context.Context) error {
	w, err := p.sink(ctx)
	if err != nil {
		return err
	}
	// A silent clip keeps command sinks from complaining about empty input
	if err := WriteWAV(w, make([]int16, SampleRate/100)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (p *WAVPlayer) Play(ctx context.Context, chime Chime) error {
	w, err := p.sink(ctx)
	if err != nil {
		return fmt.Errorf("failed to open audio sink: %w", err)
	}
	if err := WriteWAV(w, Synthesize(chime, p.osc, p.volume)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write chime: %w", err)
	}
	return w.Close()
}

// BroadcastPlayer asks connected board screens to play the chime. The
// request travels on the event broker to websocket clients.
type BroadcastPlayer struct {
	broker   *events.Broker
	tenantID string
	kind     string
}

// NewBroadcastPlayer creates a player for one board
func NewBroadcastPlayer(broker *events.Broker, tenantID, kind string) *BroadcastPlayer {
	return &BroadcastPlayer{broker: broker, tenantID: tenantID, kind: kind}
}

func (p *BroadcastPlayer) Unlock(ctx context.Context) error {
	if p.broker == nil {
		return fmt.Errorf("no event broker")
	}
	return nil
}

func (p *BroadcastPlayer) Play(ctx context.Context, chime Chime) error {
	if p.broker == nil {
		return fmt.Errorf("no event broker")
	}
	data, err := json.Marshal(chime)
	if err != nil {
		return err
	}
	p.broker.Publish(&events.Event{
		Type:     events.EventChimeRequested,
		TenantID: p.tenantID,
		Kind:     p.kind,
		Message:  string(data),
		Metadata: map[string]string{"bursts": strconv.Itoa(len(chime))},
		Payload:  chime,
	})
	return nil
}

// MultiPlayer plays on every player. It fails only when all players fail.
type MultiPlayer []TonePlayer

func (m MultiPlayer) Unlock(ctx context.Context) error {
	return m.each(func(p TonePlayer) error { return p.Unlock(ctx) })
}

func (m MultiPlayer) Play(ctx context.Context, chime Chime) error {
	return m.each(func(p TonePlayer) error { return p.Play(ctx, chime) })
}

func (m MultiPlayer) each(fn func(TonePlayer) error) error {
	var lastErr error
	ok := 0
	for _, p := range m {
		if err := fn(p); err != nil {
			lastErr = err
			continue
		}
		ok++
	}
	if ok == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}
