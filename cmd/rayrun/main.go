// Package main is rayrun, the local-simulation entry point: it boots Size
// engines over in-process loopback adapters (cmd/authn's flag parsing plus
// installSignalHandler idiom, generalized from one process to a simulated
// pool) and runs them concurrently with golang.org/x/sync/errgroup, the
// same group-of-goroutines-with-shared-cancellation shape dsort.go uses
// for its own worker fan-out. SIGUSR1 toggles every engine's debug mode
// at once, following cmd/authn's signal.Notify pattern but over
// golang.org/x/sys/unix so the reserved-signal constant isn't limited to
// syscall's smaller portable set.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/DmitrySigaev/RayPlatform/actor"
	"github.com/DmitrySigaev/RayPlatform/cmn/nlog"
	"github.com/DmitrySigaev/RayPlatform/config"
	"github.com/DmitrySigaev/RayPlatform/engine"
	"github.com/DmitrySigaev/RayPlatform/hk"
	"github.com/DmitrySigaev/RayPlatform/kvstore"
	"github.com/DmitrySigaev/RayPlatform/message"
	"github.com/DmitrySigaev/RayPlatform/registry"
	"github.com/DmitrySigaev/RayPlatform/stats"
	"github.com/DmitrySigaev/RayPlatform/switchman"
	"github.com/DmitrySigaev/RayPlatform/transport/loopback"
	"github.com/DmitrySigaev/RayPlatform/vcomm"
)

const heartbeatInterval = 30 * time.Second

var (
	topologyPath string
	metricsAddr  string
)

func init() {
	flag.StringVar(&topologyPath, "config", "", "path to the cluster topology YAML file")
	flag.StringVar(&metricsAddr, "metrics", "", "address to serve /metrics on (empty disables)")
}

func main() {
	flag.Parse()
	if topologyPath == "" {
		exitLogf("missing required -config flag")
	}
	cluster, err := config.Load(topologyPath)
	if err != nil {
		exitLogf("failed to load topology: %v", err)
	}
	rc, err := cluster.RouterConfig()
	if err != nil {
		exitLogf("invalid topology: %v", err)
	}

	net := loopback.NewNetwork()
	engines := make([]*engine.Engine, cluster.Size)
	stores := make([]*kvstore.Store, cluster.Size)

	for r := 0; r < cluster.Size; r++ {
		rank := message.Rank(r)
		reg := registry.New()
		vc := vcomm.New(rank)
		store, kvErr := kvstore.New(rank, cluster.Size, reg, vc)
		if kvErr != nil {
			exitLogf("rank %d: failed to start kvstore: %v", r, kvErr)
		}
		stores[r] = store

		smHandle := reg.AllocatePluginHandle()
		if err := reg.BeginRegistration(smHandle); err != nil {
			exitLogf("rank %d: failed to register switch-manager plugin: %v", r, err)
		}
		completionTag, tagErr := reg.AllocateTagHandle(smHandle)
		if tagErr != nil {
			exitLogf("rank %d: failed to allocate switch-manager completion tag: %v", r, tagErr)
		}
		sm := switchman.New(rank, cluster.Size, completionTag)
		// Every rank binds the completion-signal handler; only rank 0 ever
		// receives the tag (spec §4.3: slaves send it to rank 0), but the
		// engine warns on an unhandled ingress tag otherwise.
		if err := reg.BindTagHandler(smHandle, completionTag, "", func(*message.Envelope) []*message.Envelope {
			return sm.OnCompletionSignal()
		}); err != nil {
			exitLogf("rank %d: failed to bind switch-manager completion handler: %v", r, err)
		}
		if err := reg.EndRegistration(smHandle); err != nil {
			exitLogf("rank %d: failed to end switch-manager plugin registration: %v", r, err)
		}

		cfg := engine.Config{
			Size:          cluster.Size,
			CRC:           cluster.CRC32,
			Compression:   cluster.Compression,
			RouterEnabled: true,
			Router:        rc,
		}
		engines[r] = engine.New(rank, cfg, net.Register(rank), reg, sm, actor.New(rank), vc)
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		for r, e := range engines {
			mux.Handle(fmt.Sprintf("/rank/%d/metrics", r), stats.New(e.Metrics).Handler())
		}
		go func() {
			if serveErr := http.ListenAndServe(metricsAddr, mux); serveErr != nil {
				nlog.Errorf("metrics server exited: %v", serveErr)
			}
		}()
	}

	housekeeper := hk.New()
	go housekeeper.Run()
	housekeeper.Reg("rank-heartbeat"+hk.NameSuffix, func() time.Duration {
		nlog.Infof("rayrun: %d ranks alive", len(engines))
		return heartbeatInterval
	}, heartbeatInterval)
	defer housekeeper.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	installSignalHandlers(engines, cancel)

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range engines {
		e := e
		g.Go(func() error { return e.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		nlog.Errorf("engine group exited with error: %v", err)
		os.Exit(1)
	}
}

// exitLogf logs a fatal startup error and exits, the same
// log-then-os.Exit(1) shape cmd/authn's cos.ExitLogf gives its own
// daemon's startup failures.
func exitLogf(format string, args ...any) {
	nlog.Errorf(format, args...)
	os.Exit(1)
}

// installSignalHandlers wires SIGINT/SIGTERM to a clean shutdown and
// SIGUSR1 to toggling every engine's debug mode, the simulation-wide
// counterpart of a single node's runtime debug switch.
func installSignalHandlers(engines []*engine.Engine, cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, unix.SIGTERM, unix.SIGUSR1)
	go func() {
		for sig := range c {
			switch sig {
			case unix.SIGUSR1:
				for _, e := range engines {
					e.SetDebugMode(!e.DebugMode())
				}
			default:
				cancel()
				return
			}
		}
	}()
}
