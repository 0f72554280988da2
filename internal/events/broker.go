package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"
)

// BrokerConfig configures the embedded MQTT broker.
type BrokerConfig struct {
	Listen         string
	AllowAnonymous bool
	Username       string
	Password       string
}

// Broker is an embedded MQTT broker module for installations that do
// not run their own.
type Broker struct {
	log    *zap.Logger
	server *mochi.Server
	config BrokerConfig
}

// NewBroker creates the embedded broker.
func NewBroker(log *zap.Logger, cfg BrokerConfig) (*Broker, error) {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = "127.0.0.1:1883"
	}

	log = log.With(zap.String("module", "broker"))
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(&zapHandler{logger: log}),
	})

	switch {
	case cfg.AllowAnonymous:
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, err
		}
	case cfg.Username != "":
		ledger := &auth.Ledger{
			Auth: auth.AuthRules{{
				Username: auth.RString(cfg.Username),
				Password: auth.RString(cfg.Password),
				Allow:    true,
			}},
			ACL: auth.ACLRules{{
				Username: auth.RString(cfg.Username),
				Filters:  auth.Filters{auth.RString("#"): auth.ReadWrite},
			}},
		}
		if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("events: embedded broker needs allow_anonymous or credentials")
	}

	return &Broker{log: log, server: server, config: cfg}, nil
}

// URL returns the broker url clients should connect to.
func (b *Broker) URL() string {
	return fmt.Sprintf("mqtt://%s", b.config.Listen)
}

// Run serves the broker until the context is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	listener := listeners.NewTCP(listeners.Config{ID: "embedded", Address: b.config.Listen})
	if err := b.server.AddListener(listener); err != nil {
		return err
	}
	go func() {
		_ = b.server.Serve()
	}()
	b.log.Info("embedded broker listening", zap.String("addr", b.config.Listen))

	<-ctx.Done()
	return b.server.Close()
}

// zapHandler bridges the broker's slog output into the daemon logger.
type zapHandler struct {
	logger *zap.Logger
	attrs  []slog.Attr
}

func (h *zapHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *zapHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]zap.Field, 0, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		fields = append(fields, zap.Any(attr.Key, attr.Value.Any()))
	}
	record.Attrs(func(attr slog.Attr) bool {
		fields = append(fields, zap.Any(attr.Key, attr.Value.Any()))
		return true
	})
	switch {
	case record.Level >= slog.LevelError:
		h.logger.Error(record.Message, fields...)
	case record.Level >= slog.LevelWarn:
		h.logger.Warn(record.Message, fields...)
	case record.Level >= slog.LevelInfo:
		h.logger.Info(record.Message, fields...)
	default:
		h.logger.Debug(record.Message, fields...)
	}
	return nil
}

func (h *zapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next = append(next, h.attrs...)
	next = append(next, attrs...)
	return &zapHandler{logger: h.logger, attrs: next}
}

func (h *zapHandler) WithGroup(_ string) slog.Handler { return h }
