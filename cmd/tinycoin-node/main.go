// Command tinycoin-node runs a single tinycoin peer: it serves the wire
// protocol to other nodes, maintains a mempool, and periodically snapshots
// its ledger to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tinycoin/tinycoin/internal/metrics"
	"github.com/tinycoin/tinycoin/internal/nodesvc"
	"github.com/tinycoin/tinycoin/internal/snapshot"
)

func main() {
	os.Exit(run())
}

func run() int {
	port := flag.Uint("port", 9000, "TCP listen port")
	blockchainFile := flag.String("blockchain-file", "./blockchain.cbor", "path to the ledger snapshot")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	flag.Parse()
	bootstrapAddrs := flag.Args()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tinycoin-node: build logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	chain, err := snapshot.Load(*blockchainFile)
	if err != nil {
		logger.Error("failed to load snapshot", zap.Error(err))
		return 1
	}

	svc := nodesvc.New(chain, *blockchainFile, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if chain.BlockHeight() == 0 && len(bootstrapAddrs) > 0 {
		if err := svc.Bootstrap(ctx, bootstrapAddrs); err != nil {
			logger.Warn("bootstrap sync did not complete", zap.Error(err))
		}
	}

	addr := fmt.Sprintf("0.0.0.0:%d", *port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to bind listener", zap.String("addr", addr), zap.Error(err))
		return 1
	}
	logger.Info("listening", zap.String("addr", addr))

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	go svc.RunCleanupLoop(ctx)
	go svc.RunSnapshotLoop(ctx)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("accept failed", zap.Error(err))
			continue
		}
		go svc.HandleConnection(conn)
	}

	if err := svc.SaveSnapshot(); err != nil {
		logger.Error("final snapshot save failed", zap.Error(err))
	}
	logger.Info("shut down")
	return 0
}
