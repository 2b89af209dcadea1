// Command rift-client runs the initiator side of a RIFT session against
// a fixed remote address, printing a periodic stats snapshot while the
// session is established (§10.4).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	riftnet "github.com/bybrooklyn/wavry-sub002"
	"github.com/bybrooklyn/wavry-sub002/crypto"
	"github.com/bybrooklyn/wavry-sub002/internal/demo"
)

func main() {
	app := &cli.App{
		Name:  "rift-client",
		Usage: "run the initiator side of a RIFT session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a TOML config file, defaults applied otherwise"},
			&cli.StringFlag{Name: "connect", Usage: "host:port of the rift-host to dial", Required: true},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := slog.Default()

	cfg := riftnet.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := riftnet.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	remote, err := net.ResolveUDPAddr("udp", c.String("connect"))
	if err != nil {
		return fmt.Errorf("resolve %q: %w", c.String("connect"), err)
	}

	static, err := crypto.GenerateStaticKeyPair()
	if err != nil {
		return fmt.Errorf("generate static key: %w", err)
	}
	identity, err := crypto.GenerateIdentityKeyPair()
	if err != nil {
		return fmt.Errorf("generate identity key: %w", err)
	}

	source := demo.NewFrameGenerator(1024, 30)
	sink := &demo.DiscardSink{Log: log}
	orch := riftnet.NewOrchestrator(cfg, riftnet.Identity{Static: static, Identity: identity},
		source, sink, demo.DiscardInput{}, demo.StaticSignal{Addr: remote}).WithLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutdown requested")
		orch.Close()
	}()
	go printStats(ctx, orch)

	reason, err := orch.Open()
	log.Info("client exiting", "reason", reason)
	return err
}

func printStats(ctx context.Context, orch *riftnet.Orchestrator) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := orch.StatsSnapshot()
			if !ok {
				continue
			}
			fmt.Printf("bitrate=%dkbps fec=%.3f state=%d groups[complete=%d recovered=%d lost=%d]\n",
				snap.BitrateKbps, snap.FECFraction, snap.CongestionState,
				snap.FECGroupsComplete, snap.FECGroupsRecovered, snap.FECGroupsLost)
		}
	}
}
