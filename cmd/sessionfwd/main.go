// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command sessionfwd runs the session TX dispatch engine as a
// standalone process: a small fixed number of worker threads, each
// driving one loopback stream and one loopback dgram transport, with
// Prometheus metrics served over HTTP and a periodic timer process per
// worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"go.fuchsia.dev/sessionfwd/internal/bufferpool"
	"go.fuchsia.dev/sessionfwd/internal/elog"
	"go.fuchsia.dev/sessionfwd/internal/metrics"
	"go.fuchsia.dev/sessionfwd/internal/periodic"
	"go.fuchsia.dev/sessionfwd/internal/session"
	"go.fuchsia.dev/sessionfwd/internal/transport"
	"go.fuchsia.dev/sessionfwd/internal/transport/loopback"
	"go.fuchsia.dev/sessionfwd/internal/worker"
)

const tag = "sessionfwd"

func main() {
	app := &cli.App{
		Name:  "sessionfwd",
		Usage: "session TX dispatch engine",
		Commands: []*cli.Command{
			runCommand,
			dumpMailboxCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		elog.Errorf(tag, "%s", err)
		os.Exit(1)
	}
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "start worker engines with a loopback transport",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "workers", Value: 1, Usage: "number of worker threads"},
		&cli.StringFlag{Name: "metrics-addr", Value: ":9090", Usage: "address to serve /metrics on"},
	},
	Action: func(c *cli.Context) error {
		return runEngines(c.Int("workers"), c.String("metrics-addr"))
	},
}

func runEngines(numWorkers int, metricsAddr string) error {
	if numWorkers < 1 {
		numWorkers = 1
	}
	reg := prometheus.NewRegistry()

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		elog.Infof(tag, "serving metrics on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			elog.Errorf(tag, "metrics server: %s", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var procs []*periodic.Process
	for i := 0; i < numWorkers; i++ {
		thread := uint32(i)
		ctrs := metrics.New(reg, thread)
		pool := bufferpool.NewArena(2048, 64)

		streamT := loopback.NewTransport(transport.Stream)
		dgramT := loopback.NewTransport(transport.Dgram)
		// Both vtables share the stream transport's Node: a deployment
		// that actually dials dgram sessions would give dgramT its own
		// Node and register each session's RX FIFO on it.
		streamNode := loopback.NewNode(streamT)

		e := worker.New(thread, 256, pool, streamNode, ctrs)
		e.RegisterVtable(session.Stream, streamT)
		e.RegisterVtable(session.Dgram, dgramT)

		proc := periodic.New(ctrs, time.Second, func(time.Time) {
			// A real transport would age out retransmission/keep-alive
			// timers here.
		})
		procs = append(procs, proc)
		go proc.Run()
		go e.Run(ctx)
	}

	elog.Infof(tag, "running %d worker(s)", numWorkers)
	<-ctx.Done()
	for _, p := range procs {
		p.Stop()
	}
	return nil
}

var dumpMailboxCommand = &cli.Command{
	Name:  "dump-mailbox",
	Usage: "print a worker's deferred-event snapshot",
	Action: func(c *cli.Context) error {
		fs := pflag.NewFlagSet("dump-mailbox", pflag.ContinueOnError)
		thread := fs.Uint32("thread", 0, "worker thread index to report")
		if err := fs.Parse(c.Args().Slice()); err != nil {
			return err
		}

		// This process owns no running engine to attach to, so this
		// reports an empty snapshot of a freshly constructed one; it
		// exists to exercise the same PendingSnapshot path "run" would
		// expose over a real IPC mechanism.
		pool := bufferpool.NewArena(2048, 64)
		ctrs := metrics.New(prometheus.NewRegistry(), *thread)
		e := worker.New(*thread, 256, pool, loopback.NewNode(loopback.NewTransport(transport.Stream)), ctrs)

		pending := e.PendingSnapshot()
		fmt.Printf("thread %d: %d deferred event(s)\n", *thread, len(pending))
		for _, ev := range pending {
			fmt.Printf("  %s session=%d postponed=%v\n", ev.Kind, ev.SessionIndex, ev.Postponed)
		}
		return nil
	},
}
