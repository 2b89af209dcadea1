// Command rift-host runs the responder side of a RIFT session: it binds
// a UDP endpoint, waits for a HANDSHAKE_1, and streams synthetic frames
// to whichever client completes the handshake (§10.4).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	riftnet "github.com/bybrooklyn/wavry-sub002"
	"github.com/bybrooklyn/wavry-sub002/crypto"
	"github.com/bybrooklyn/wavry-sub002/internal/demo"
)

func main() {
	app := &cli.App{
		Name:  "rift-host",
		Usage: "run the responder side of a RIFT session",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a TOML config file, defaults applied otherwise"},
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Value: ":9700", Usage: "UDP address to listen on"},
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
	cfg.Transport.ListenAddr = c.String("listen")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
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
		source, sink, demo.DiscardInput{}, demo.StaticSignal{}).WithLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutdown requested")
		orch.Close()
	}()

	reason, err := orch.Accept()
	log.Info("host exiting", "reason", reason)
	return err
}
