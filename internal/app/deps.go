// Package app assembles the relay dependencies shared by the relay server and the
// relay worker from their configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"medrelay/internal/config"
	"medrelay/internal/convmap"
	"medrelay/internal/dedup"
	"medrelay/internal/providers"
	"medrelay/internal/providers/chatwoot"
	"medrelay/internal/providers/evolution"
	"medrelay/internal/relay"
	"medrelay/internal/store/memstore"
	"medrelay/internal/store/pg"
	"medrelay/internal/tenant"
)

type Deps struct {
	Tenants       *tenant.Directory
	Conversations *convmap.Map
	Dedup         dedup.Ledger
	WhatsApp      *evolution.Client
	Helpdesk      *chatwoot.Client
	// Checks back the readiness probe.
	Checks []func(ctx context.Context) error

	closers []func()
}

// Build opens the store and the dedup backend and constructs both provider clients.
func Build(ctx context.Context, db config.Database, p config.Providers, r config.Relaying) (*Deps, error) {
	d := &Deps{}

	switch db.StoreDriver {
	case config.StoreMemory:
		slog.Warn("using in-memory store, tenants are lost on restart")
		st := memstore.New()
		d.Tenants = tenant.New(st)
		d.Conversations = convmap.New(st)
	default:
		pool, err := pg.Open(ctx, db.DBDSN, pg.PoolOptions{
			MaxConns:          db.PoolMaxConns,
			MinConns:          db.PoolMinConns,
			MaxConnLifetime:   db.PoolMaxConnLifetime,
			MaxConnIdleTime:   db.PoolMaxConnIdleTime,
			HealthCheckPeriod: db.PoolHealthCheckPeriod,
		}, 3*time.Second)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		if db.AutoMigrate {
			if err := pg.Migrate(ctx, pool); err != nil {
				d.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		st := pg.New(pool)
		d.Tenants = tenant.New(st)
		d.Conversations = convmap.New(st)
		d.Checks = append(d.Checks, st.Ping)
	}

	switch r.DedupBackend {
	case config.DedupRedis:
		rp := dedup.NewRedisPool(r.RedisURL)
		ledger := &dedup.Redis{Pool: rp, TTL: r.DedupTTL}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := ledger.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = rp.Close()
			d.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.closers = append(d.closers, func() { _ = rp.Close() })
		d.Dedup = ledger
		d.Checks = append(d.Checks, ledger.Ping)
	default:
		d.Dedup = dedup.NewMemory(r.DedupTTL)
	}

	d.WhatsApp = &evolution.Client{
		BaseURL: p.EvolutionBaseURL,
		APIKey:  p.EvolutionAPIKey,
		HTTP:    &http.Client{Timeout: p.ProviderTimeout},
		Guard: providers.NewGuard(providers.GuardOptions{
			Name:    "whatsapp",
			RPS:     p.EvolutionRPSPerPod,
			Burst:   p.EvolutionBurst,
			Timeout: p.ProviderTimeout,
		}),
		SendDelay: time.Duration(p.EvolutionSendDelay) * time.Millisecond,
	}
	d.Helpdesk = &chatwoot.Client{
		BaseURL: p.HelpdeskBaseURL,
		HTTP:    &http.Client{Timeout: p.ProviderTimeout},
		Guard: providers.NewGuard(providers.GuardOptions{
			Name:    "helpdesk",
			RPS:     p.HelpdeskRPSPerPod,
			Burst:   p.HelpdeskBurst,
			Timeout: p.ProviderTimeout,
		}),
	}
	return d, nil
}

func (d *Deps) Inbound(reuseOpenConversations bool) *relay.Inbound {
	return &relay.Inbound{
		Tenants:                d.Tenants,
		Conversations:          d.Conversations,
		Dedup:                  d.Dedup,
		Helpdesk:               d.Helpdesk,
		ReuseOpenConversations: reuseOpenConversations,
	}
}

func (d *Deps) Outbound(secret string) *relay.Outbound {
	return &relay.Outbound{
		Secret:        secret,
		Tenants:       d.Tenants,
		Conversations: d.Conversations,
		Dedup:         d.Dedup,
		Helpdesk:      d.Helpdesk,
		WhatsApp:      d.WhatsApp,
	}
}

// Close releases connections in reverse order of opening.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
