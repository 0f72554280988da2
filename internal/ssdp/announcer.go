// Package ssdp announces the media server on the local network so
// UPnP control points can discover the streaming endpoint.
package ssdp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexballas/go-ssdp"
	"go.uber.org/zap"
)

const serverName = "fennec/1.0 UPnP/1.0"

var searchTargets = []string{
	"upnp:rootdevice",
	"urn:schemas-upnp-org:device:MediaServer:1",
	"urn:schemas-upnp-org:service:ContentDirectory:1",
}

// Config configures the announcer.
type Config struct {
	UUID     string
	Location string
	MaxAge   time.Duration
}

// Announcer periodically re-advertises the server and sends byebye
// notifications on shutdown.
type Announcer struct {
	log    *zap.Logger
	config Config
}

// NewAnnouncer creates the SSDP module.
func NewAnnouncer(log *zap.Logger, cfg Config) (*Announcer, error) {
	if cfg.UUID == "" {
		return nil, errors.New("ssdp: device uuid is required")
	}
	if cfg.Location == "" {
		return nil, errors.New("ssdp: location url is required")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 1800 * time.Second
	}
	return &Announcer{
		log:    log.With(zap.String("module", "ssdp")),
		config: cfg,
	}, nil
}

// Run advertises until the context is cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	maxAge := int(a.config.MaxAge.Seconds())
	ads := make([]*ssdp.Advertiser, 0, len(searchTargets))
	for _, st := range searchTargets {
		usn := fmt.Sprintf("uuid:%s::%s", a.config.UUID, st)
		ad, err := ssdp.Advertise(st, usn, a.config.Location, serverName, maxAge)
		if err != nil {
			for _, prev := range ads {
				_ = prev.Bye()
				_ = prev.Close()
			}
			return fmt.Errorf("ssdp: advertise %s: %w", st, err)
		}
		ads = append(ads, ad)
	}
	a.log.Info("announcing media server",
		zap.String("location", a.config.Location),
		zap.String("uuid", a.config.UUID))

	ticker := time.NewTicker(a.config.MaxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, ad := range ads {
				if err := ad.Alive(); err != nil {
					a.log.Warn("alive notification failed", zap.Error(err))
				}
			}
		case <-ctx.Done():
			for _, ad := range ads {
				_ = ad.Bye()
				_ = ad.Close()
			}
			return nil
		}
	}
}
