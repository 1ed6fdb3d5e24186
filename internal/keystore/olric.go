package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olric-data/olric"
	olricconfig "github.com/olric-data/olric/config"
	"github.com/rs/zerolog"
	"github.com/samber/mo"
)

// olricStore keeps JSON-encoded key records in an Olric DMap.
// In embedded mode the gateway runs its own Olric member; in client mode it
// talks to an existing cluster.
type olricStore struct {
	db     *olric.Olric // nil in client mode
	client olric.Client
	dmap   olric.DMap
	log    zerolog.Logger
	name   string
	mu     sync.RWMutex
	closed atomic.Bool
}

var _ Store = (*olricStore)(nil)

func splitBindAddr(addr string) (host string, port int) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err = strconv.Atoi(p)
	if err != nil {
		return h, 0
	}
	return h, port
}

func newOlricStore(ctx context.Context, cfg *OlricConfig) (*olricStore, error) {
	lg := logger().With().Str("backend", "olric").Logger()

	name := cfg.DMapName
	if name == "" {
		name = DefaultDMapName
	}

	if cfg.Embedded {
		return newEmbeddedOlricStore(ctx, cfg, name, lg)
	}
	return newClientOlricStore(ctx, cfg, name, lg)
}

func newEmbeddedOlricStore(ctx context.Context, cfg *OlricConfig, name string, lg zerolog.Logger) (*olricStore, error) {
	c := olricconfig.New("local")

	host, port := splitBindAddr(cfg.BindAddr)
	c.BindAddr = host
	if port > 0 {
		c.BindPort = port
	}
	if len(cfg.Peers) > 0 {
		c.Peers = cfg.Peers
	}
	if cfg.LeaveTimeout > 0 {
		c.LeaveTimeout = cfg.LeaveTimeout
	}

	// Olric logs through the standard logger; keep it quiet.
	c.LogOutput = io.Discard
	c.Logger = log.New(io.Discard, "", 0)

	ready := make(chan struct{})
	c.Started = func() {
		close(ready)
	}

	db, err := olric.New(c)
	if err != nil {
		lg.Error().Err(err).Msg("olric: failed to create embedded member")
		return nil, err
	}

	startErr := make(chan error, 1)
	go func() {
		if err := db.Start(); err != nil {
			startErr <- err
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	select {
	case <-ready:
	case err := <-startErr:
		lg.Error().Err(err).Msg("olric: embedded member failed to start")
		return nil, err
	case <-startCtx.Done():
		lg.Warn().Msg("olric: embedded member start timed out, continuing")
	}

	client := db.NewEmbeddedClient()
	dm, err := client.NewDMap(name)
	if err != nil {
		lg.Error().Err(err).Str("dmap", name).Msg("olric: failed to open dmap")
		if shutdownErr := db.Shutdown(context.Background()); shutdownErr != nil {
			lg.Error().Err(shutdownErr).Msg("olric: shutdown after dmap error failed")
		}
		return nil, err
	}

	lg.Info().
		Str("bind_addr", host).
		Int("bind_port", port).
		Str("dmap", name).
		Int("peers", len(cfg.Peers)).
		Msg("olric embedded key store created")

	return &olricStore{db: db, client: client, dmap: dm, log: lg, name: name}, nil
}

func newClientOlricStore(ctx context.Context, cfg *OlricConfig, name string, lg zerolog.Logger) (*olricStore, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("keystore: olric addresses required for client mode")
	}

	client, err := olric.NewClusterClient(cfg.Addresses)
	if err != nil {
		lg.Error().Err(err).Strs("addresses", cfg.Addresses).Msg("olric: failed to connect")
		return nil, err
	}

	dm, err := client.NewDMap(name)
	if err != nil {
		lg.Error().Err(err).Str("dmap", name).Msg("olric: failed to open dmap")
		if closeErr := client.Close(ctx); closeErr != nil {
			lg.Error().Err(closeErr).Msg("olric: close after dmap error failed")
		}
		return nil, err
	}

	lg.Info().
		Strs("addresses", cfg.Addresses).
		Str("dmap", name).
		Msg("olric cluster key store created")

	return &olricStore{client: client, dmap: dm, log: lg, name: name}, nil
}

func (o *olricStore) FindByKey(ctx context.Context, key string) (mo.Option[APIKey], error) {
	if err := ctx.Err(); err != nil {
		return mo.None[APIKey](), technical("find", err)
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed.Load() {
		return mo.None[APIKey](), technical("find", ErrClosed)
	}

	resp, err := o.dmap.Get(ctx, key)
	if errors.Is(err, olric.ErrKeyNotFound) {
		o.log.Debug().Str("key", redact(key)).Bool("hit", false).Msg("key lookup")
		return mo.None[APIKey](), nil
	}
	if err != nil {
		return mo.None[APIKey](), technical("find", err)
	}

	raw, err := resp.Byte()
	if err != nil {
		return mo.None[APIKey](), technical("decode", err)
	}

	var record APIKey
	if err := json.Unmarshal(raw, &record); err != nil {
		return mo.None[APIKey](), technical("decode", err)
	}

	o.log.Debug().Str("key", redact(key)).Bool("hit", true).Msg("key lookup")
	return mo.Some(record), nil
}

func (o *olricStore) Save(ctx context.Context, k APIKey) error {
	if k.Key == "" {
		return ErrKeyRequired
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed.Load() {
		return ErrClosed
	}

	raw, err := json.Marshal(k)
	if err != nil {
		return err
	}

	if err := o.dmap.Put(ctx, k.Key, raw); err != nil {
		return technical("save", err)
	}

	o.log.Debug().Str("key", redact(k.Key)).Str("plan", k.Plan).Msg("key saved")
	return nil
}

func (o *olricStore) Delete(ctx context.Context, key string) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed.Load() {
		return ErrClosed
	}

	_, err := o.dmap.Delete(ctx, key)
	if err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		return technical("delete", err)
	}
	return nil
}

func (o *olricStore) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed.Swap(true) {
		return nil
	}

	ctx := context.Background()
	if err := o.dmap.Close(ctx); err != nil {
		o.log.Debug().Err(err).Msg("olric: dmap close error")
	}

	if o.db != nil {
		err := o.db.Shutdown(ctx)
		if err != nil {
			o.log.Error().Err(err).Msg("olric: embedded member shutdown failed")
		}
		return err
	}

	err := o.client.Close(ctx)
	if err != nil {
		o.log.Error().Err(err).Msg("olric: client close failed")
	}
	return err
}

// Ping checks that the DMap answers. A missing probe key counts as healthy.
func (o *olricStore) Ping(ctx context.Context) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed.Load() {
		return ErrClosed
	}

	_, err := o.dmap.Get(ctx, "__plangate_ping__")
	if err == nil || errors.Is(err, olric.ErrKeyNotFound) {
		return nil
	}
	return err
}
