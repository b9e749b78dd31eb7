// Command spaceex-demo connects to a running server, prints the size of
// its encoded status message, then blocks until a signal arrives or the
// connection closes. It exists to exercise Connect/CallRPC/Close end to
// end against a real server rather than the in-process fakes the
// package tests use.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	spaceex "github.com/wisq/spaceex-go"
	"github.com/wisq/spaceex-go/codec"
	"github.com/wisq/spaceex-go/schema"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	rpcPort := flag.Int("rpc-port", spaceex.DefaultRPCPort, "RPC port")
	streamPort := flag.Int("stream-port", spaceex.DefaultStreamPort, "stream port")
	name := flag.String("name", "spaceex-demo", "client name presented at handshake")
	timeout := flag.Duration("timeout", 10*time.Second, "dial and call timeout")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		cancel()
	}()

	conn, err := spaceex.Connect(ctx, *host, *rpcPort, *streamPort,
		spaceex.WithClientName(*name),
		spaceex.WithDialTimeout(*timeout),
		spaceex.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("connect failed", zap.Error(err))
	}
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(ctx, *timeout)
	defer callCancel()
	result, err := conn.CallRPC(callCtx, "KRPC", "GetStatus")
	if err != nil {
		logger.Fatal("GetStatus failed", zap.Error(err))
	}
	// KRPC.Status is a real protobuf message; this module only carries
	// the passthrough codec for it, so the demo prints its raw encoded
	// size rather than decoding individual fields.
	raw, err := codec.Decode(result.Value, schema.NewProtobuf("KRPC.Status"), nil)
	if err != nil {
		logger.Fatal("decoding status failed", zap.Error(err))
	}
	fmt.Printf("server status: %d protobuf bytes\n", len(raw.([]byte)))

	select {
	case <-conn.Done():
		logger.Warn("connection closed by peer or transport failure")
	case <-ctx.Done():
	}
}
