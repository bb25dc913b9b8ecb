package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/enet/internal/config"
	"github.com/die-net/enet/internal/conn"
	"github.com/die-net/enet/internal/dialer"
	"github.com/die-net/enet/internal/driver"
	"github.com/die-net/enet/internal/host"
	"github.com/die-net/enet/internal/logging"
)

const shutdownGrace = time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	config.RegisterFlags(pflag.CommandLine)
	debugListen := pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	path, _ := pflag.CommandLine.GetString("config")
	cfg, err := config.Load(path, pflag.CommandLine)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("invalid log settings: %w", err)
	}
	defer func() { _ = log.Sync() }()

	upstream, err := dialer.Parse(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}
	ka, err := cfg.KeepAlive()
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	var peer netip.AddrPort
	if cfg.Connect != "" {
		if peer, err = netip.ParseAddrPort(cfg.Connect); err != nil {
			return fmt.Errorf("invalid --connect: %w", err)
		}
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	g, ctx := errgroup.WithContext(runCtx)

	d, err := driver.New(ctx, driver.Config{
		Logger:   log,
		Host:     cfg.HostSettings(),
		Listen:   cfg.Listen,
		Socket:   cfg.SocketOptions(),
		Upstream: upstream,
		Dialer:   dialer.New(dialer.Config{DialTimeout: cfg.DialTimeout, KeepAlive: ka}),
	})
	if err != nil {
		return err
	}
	log.Info("listening", zap.Stringer("addr", d.LocalAddr()), zap.Bool("proxied", !upstream.Direct()))

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		debugLn, err := conn.ListenTCP(ctx, *debugListen, ka)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info("debug listening", zap.String("addr", *debugListen))
	}

	c := &chat{log: log, d: d, peers: make(map[host.Handle]netip.AddrPort)}

	g.Go(func() error {
		if err := d.Run(ctx); err != nil {
			return fmt.Errorf("driver: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		c.watch()
		return nil
	})

	if peer.IsValid() {
		g.Go(func() error {
			select {
			case <-d.Ready():
			case <-ctx.Done():
				return nil
			}
			if _, err := d.Connect(ctx, peer, cfg.Channels, 0); err != nil {
				return fmt.Errorf("connect %s: %w", peer, err)
			}
			log.Info("connecting", zap.Stringer("addr", peer))
			return nil
		})
	}

	go c.readLines(ctx, os.Stdin)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g.Go(func() error {
		<-sigCtx.Done()
		c.shutdown(runCtx)
		cancelRun()
		return nil
	})

	err = g.Wait()
	log.Info("shutting down")
	return err
}

// chat relays stdin lines to every connected peer and logs what arrives.
type chat struct {
	log *zap.Logger
	d   *driver.Driver

	mu    sync.Mutex
	peers map[host.Handle]netip.AddrPort
}

func (c *chat) watch() {
	for ev := range c.d.Events() {
		switch ev.Type {
		case host.EventConnect:
			c.mu.Lock()
			c.peers[ev.Peer] = ev.Addr
			c.mu.Unlock()
			c.log.Info("peer connected", zap.Stringer("peer", ev.Peer), zap.Stringer("addr", ev.Addr), zap.Uint32("data", ev.Value))
		case host.EventDisconnect, host.EventTimeout:
			c.mu.Lock()
			delete(c.peers, ev.Peer)
			c.mu.Unlock()
			c.log.Info("peer disconnected", zap.Stringer("peer", ev.Peer), zap.Stringer("addr", ev.Addr),
				zap.Stringer("event", ev.Type), zap.Uint32("data", ev.Value), zap.Error(ev.Err))
		case host.EventReceive:
			c.log.Info("message", zap.Stringer("peer", ev.Peer), zap.Uint8("channel", ev.ChannelID),
				zap.Stringer("class", ev.Class), zap.ByteString("data", ev.Data))
		}
	}
}

func (c *chat) connected() []host.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]host.Handle, 0, len(c.peers))
	for hd := range c.peers {
		out = append(out, hd)
	}
	return out
}

func (c *chat) readLines(ctx context.Context, f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		for _, hd := range c.connected() {
			if err := c.d.Send(ctx, hd, 0, line, host.ClassReliable); err != nil {
				c.log.Warn("send failed", zap.Stringer("peer", hd), zap.Error(err))
			}
		}
	}
}

// shutdown disconnects every peer and waits briefly for them to confirm.
func (c *chat) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	peers := c.connected()
	for _, hd := range peers {
		if err := c.d.Disconnect(ctx, hd, 0); err != nil {
			return
		}
	}
	for len(peers) > 0 && ctx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
		peers = c.connected()
	}
}
