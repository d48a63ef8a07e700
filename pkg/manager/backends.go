package manager

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/bellhop/pkg/audio"
	"github.com/cuemby/bellhop/pkg/config"
	"github.com/cuemby/bellhop/pkg/dispatch"
	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/feed"
	"github.com/cuemby/bellhop/pkg/health"
	"github.com/cuemby/bellhop/pkg/notify"
	"github.com/cuemby/bellhop/pkg/storage"
	"github.com/cuemby/bellhop/pkg/types"
)

// Backends holds the stores and transports shared by every board session.
// Optional members are nil when the configuration disables them.
type Backends struct {
	Records   storage.RecordStore
	Writer    storage.RecordWriter
	Feed      storage.ChangeFeed
	Publisher feed.Publisher
	Ledger    storage.LedgerStore
	Flags     storage.FlagStore
	Transport dispatch.Transport

	audio      config.AudioConfig
	webhookURL string
	broker     *events.Broker
	closers []io.Closer
}

// OpenBackends constructs the configured backends. The bolt database is
// opened at most once and shared by every role that uses it.
func OpenBackends(cfg *config.Config, broker *events.Broker) (*Backends, error) {
	b := &Backends{audio: cfg.Audio, broker: broker}
	if cfg.Notify.Transport == "webhook" {
		b.webhookURL = cfg.Notify.WebhookURL
	}

	var bolt *storage.BoltStore
	openBolt := func() (*storage.BoltStore, error) {
		if bolt != nil {
			return bolt, nil
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := storage.NewBoltStore(cfg.DataDir, broker)
		if err != nil {
			return nil, err
		}
		bolt = s
		b.closers = append(b.closers, s)
		return s, nil
	}

	fail := func(err error) (*Backends, error) {
		b.Close()
		return nil, err
	}

	// Records
	var memory *storage.MemoryStore
	switch cfg.Records.Backend {
	case "bolt":
		s, err := openBolt()
		if err != nil {
			return fail(err)
		}
		b.Records, b.Writer = s, s
	case "postgres":
		s, err := storage.NewPostgresRecordStore(cfg.Records.DSN)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, s)
		b.Records, b.Writer = s, s
	case "memory":
		memory = storage.NewMemoryStore()
		b.Records, b.Writer = memory, memory
	default:
		return fail(fmt.Errorf("unknown record backend %q", cfg.Records.Backend))
	}

	// Push channel
	switch cfg.Feed.Backend {
	case "local":
		f, ok := b.Records.(storage.ChangeFeed)
		if !ok {
			return fail(fmt.Errorf("record backend %q has no local change feed", cfg.Records.Backend))
		}
		b.Feed = f
	case "redis":
		r, err := feed.NewRedis(cfg.Feed.URL)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, r)
		b.Feed, b.Publisher = r, r
	case "none":
	default:
		return fail(fmt.Errorf("unknown feed backend %q", cfg.Feed.Backend))
	}

	// Sent ledger
	switch cfg.Ledger.Backend {
	case "bolt":
		s, err := openBolt()
		if err != nil {
			return fail(err)
		}
		b.Ledger = s
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fail(fmt.Errorf("failed to create data directory: %w", err))
		}
		dsn := cfg.Ledger.DSN
		if dsn == "" {
			dsn = filepath.Join(cfg.DataDir, "ledger.db")
		}
		l, err := storage.OpenSQLLedger(storage.DialectSQLite, dsn)
		if err != nil {
			return fail(err)
		}
		b.Ledger = l
	case "postgres":
		l, err := storage.OpenSQLLedger(storage.DialectPostgres, cfg.Ledger.DSN)
		if err != nil {
			return fail(err)
		}
		b.Ledger = l
	case "redis":
		l, err := storage.NewRedisLedger(cfg.Ledger.DSN)
		if err != nil {
			return fail(err)
		}
		b.Ledger = l
	case "memory":
		b.Ledger = storage.NewMemoryLedger()
	default:
		return fail(fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend))
	}

	// Audio flags are device-local
	if memory != nil {
		b.Flags = memory
	} else {
		s, err := openBolt()
		if err != nil {
			return fail(err)
		}
		b.Flags = s
	}

	switch cfg.Notify.Transport {
	case "log":
		b.Transport = notify.NewLog()
	case "webhook":
		b.Transport = notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
	case "none":
	default:
		return fail(fmt.Errorf("unknown notify transport %q", cfg.Notify.Transport))
	}

	return b, nil
}

// Probes returns a health checker for every backend that can be probed,
// keyed by the health component it reports as
func (b *Backends) Probes() map[string]health.Checker {
	probes := make(map[string]health.Checker)
	if p, ok := b.Records.(storage.Pinger); ok {
		probes["records"] = health.NewPingChecker("records", p.Ping)
	}
	if p, ok := b.Ledger.(storage.Pinger); ok {
		probes["ledger"] = health.NewPingChecker("ledger", p.Ping)
	}
	// A local feed is the record store itself
	if p, ok := b.Feed.(storage.Pinger); ok && any(b.Feed) != any(b.Records) {
		probes["feed"] = health.NewPingChecker("feed", p.Ping)
	}
	if b.webhookURL != "" {
		probes["notify"] = health.NewHTTPChecker(b.webhookURL)
	}
	return probes
}

// Player builds the tone player for one board, or nil when audio is off
func (b *Backends) Player(board types.BoardKey) audio.TonePlayer {
	switch b.audio.Player {
	case "broadcast":
		return audio.NewBroadcastPlayer(b.broker, board.TenantID, string(board.Kind))
	case "wav":
		var sink audio.Sink
		if len(b.audio.Command) > 0 {
			sink = audio.CommandSink(b.audio.Command[0], b.audio.Command[1:]...)
		} else {
			sink = audio.FileSink(b.audio.File)
		}
		wav := audio.NewWAVPlayer(sink, b.audio.Volume)
		return audio.MultiPlayer{wav, audio.NewBroadcastPlayer(b.broker, board.TenantID, string(board.Kind))}
	}
	return nil
}

// Close closes every opened backend. The ledger is closed last.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	if b.Ledger != nil {
		if _, shared := b.Ledger.(*storage.BoltStore); !shared {
			if err := b.Ledger.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		b.Ledger = nil
	}
	return errors.Join(errs...)
}
