package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/metrics"
	"github.com/cuemby/bellhop/pkg/storage"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultInterval is the pause between chimes while a board is alerting
const DefaultInterval = 3 * time.Second

// TonePlayer renders a chime on some output
type TonePlayer interface {
	// Unlock prepares the output. It is called once, when a user activates
	// audio on a device.
	Unlock(ctx context.Context) error
	Play(ctx context.Context, chime Chime) error
}

// FlagKey is the flag store key of the activation flag of one device and tenant
func FlagKey(deviceID, tenantID string) string {
	return "audio/" + types.JoinKey(deviceID, tenantID)
}

// Gate plays chimes only after audio has been activated on the device, and
// repeats them while an alert is active.
type Gate struct {
	flags  storage.FlagStore
	key    string
	player TonePlayer
	chime  Chime
	logger zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewGate creates a gate for one device and tenant
func NewGate(flags storage.FlagStore, deviceID, tenantID string, player TonePlayer) *Gate {
	return &Gate{
		flags:  flags,
		key:    FlagKey(deviceID, tenantID),
		player: player,
		chime:  DefaultChime(),
		logger: log.WithTenant(tenantID).With().Str("component", "audio").Str("device", deviceID).Logger(),
	}
}

// IsActivated reports whether audio was activated on this device. A flag
// store error counts as not activated.
func (g *Gate) IsActivated(ctx context.Context) bool {
	on, err := g.flags.GetFlag(ctx, g.key)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Failed to read audio activation flag")
		return false
	}
	return on
}

// Activate unlocks the player and persists the activation flag
func (g *Gate) Activate(ctx context.Context) error {
	if err := g.player.Unlock(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrAudioUnavailable, err)
	}
	if err := g.flags.SetFlag(ctx, g.key, true); err != nil {
		return fmt.Errorf("failed to persist audio activation: %w", err)
	}
	g.logger.Info().Msg("Audio activated")
	return nil
}

// Deactivate clears the activation flag and stops any repeating chime
func (g *Gate) Deactivate(ctx context.Context) error {
	g.StopRepeating()
	return g.flags.SetFlag(ctx, g.key, false)
}

// PlayTone plays the chime once. Failures are logged and swallowed.
func (g *Gate) PlayTone(ctx context.Context) {
	if err := g.player.Play(ctx, g.chime); err != nil {
		metrics.ToneFailures.Inc()
		g.logger.Warn().Err(fmt.Errorf("%w: %v", types.ErrAudioUnavailable, err)).Msg("Failed to play chime")
		return
	}
	metrics.TonesPlayed.Inc()
}

// StartRepeating plays the chime now and then every interval until
// StopRepeating. It does nothing when audio is not activated or a loop is
// already running.
func (g *Gate) StartRepeating(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopCh != nil {
		return
	}
	if !g.IsActivated(context.Background()) {
		g.logger.Debug().Msg("Audio not activated, staying silent")
		return
	}

	stopCh := make(chan struct{})
	g.stopCh = stopCh
	g.wg.Add(1)
	go g.repeat(stopCh, interval)
}

func (g *Gate) repeat(stopCh chan struct{}, interval time.Duration) {
	defer g.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	g.PlayTone(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.PlayTone(ctx)
		case <-stopCh:
			return
		}
	}
}

// StopRepeating stops the repeating chime and waits for the loop to exit
func (g *Gate) StopRepeating() {
	g.mu.Lock()
	stopCh := g.stopCh
	g.stopCh = nil
	g.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	g.wg.Wait()
}

// Repeating reports whether the repeating chime is running
func (g *Gate) Repeating() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopCh != nil
}
