// Command statewire is the node CLI and embedded server:
//
//	statewire read <uri>
//	statewire list <uri> [pattern]
//	statewire write <uri> <json-value>
//	statewire delete <uri>
//	statewire node
//
// read/list/write/delete run against the configured backends directly;
// node serves the HTTP and WebSocket surfaces until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/config"
	"github.com/statewire/statewire/internal/node"
	"github.com/statewire/statewire/internal/server/httpd"
	"github.com/statewire/statewire/internal/server/wsd"
)

// Exit codes mirror the error kinds a scripted caller cares about.
const (
	exitOK         = 0
	exitUsage      = 1
	exitNotFound   = 2
	exitValidation = 3
	exitNoSchema   = 4
	exitBackend    = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	if len(args) < 1 {
		usage()
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitBackend
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if args[0] == "node" {
		cancel()
		return serve(cfg, log)
	}

	n, _, err := config.BuildNode(ctx, cfg.Node, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "backend:", err)
		return exitBackend
	}
	defer n.Close()

	switch args[0] {
	case "read":
		if len(args) != 2 {
			usage()
			return exitUsage
		}
		rec, err := n.Read(ctx, args[1])
		if err != nil {
			return report(err)
		}
		return emit(map[string]any{"ts": rec.TS, "data": codec.WrapBinary(rec.Data)})

	case "list":
		if len(args) < 2 || len(args) > 3 {
			usage()
			return exitUsage
		}
		opts := node.ListOptions{}
		if len(args) == 3 {
			opts.Pattern = args[2]
		}
		res, err := n.List(ctx, args[1], opts)
		if err != nil {
			return report(err)
		}
		return emit(res)

	case "write":
		if len(args) != 3 {
			usage()
			return exitUsage
		}
		value, err := codec.Decode([]byte(args[2]))
		if err != nil {
			fmt.Fprintln(os.Stderr, "value must be JSON:", err)
			return exitValidation
		}
		rcpt, err := n.Receive(ctx, args[1], value)
		if err != nil {
			return report(err)
		}
		return emit(map[string]any{"resolvedUri": rcpt.ResolvedURI, "ts": rcpt.TS, "children": rcpt.Children})

	case "delete":
		if len(args) != 2 {
			usage()
			return exitUsage
		}
		if err := n.Delete(ctx, args[1]); err != nil {
			return report(err)
		}
		return exitOK

	default:
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: statewire <read|list|write|delete|node> [args]
  read <uri>
  list <uri> [pattern]
  write <uri> <json-value>
  delete <uri>
  node`)
}

func emit(v any) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "encode:", err)
		return exitBackend
	}
	return exitOK
}

func report(err error) int {
	fmt.Fprintln(os.Stderr, err)
	switch node.KindOf(err) {
	case node.KindNotFound:
		return exitNotFound
	case node.KindValidation, node.KindImmutableExists, node.KindHashMismatch, node.KindBatchTooLarge:
		return exitValidation
	case node.KindNoSchema:
		return exitNoSchema
	default:
		return exitBackend
	}
}

// serve runs the HTTP and WebSocket surfaces over one node until SIGTERM.
func serve(cfg *config.Config, log *zap.Logger) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, _, err := config.BuildNode(ctx, cfg.Node, log)
	if err != nil {
		log.Error("backend init failed", zap.Error(err))
		return exitBackend
	}
	defer n.Close()

	hs := httpd.New(n, log, httpd.Options{
		Prefix:      cfg.Server.Prefix,
		CORSOrigins: cfg.Server.CORSOrigin,
	})
	r := hs.Router()
	wsd.New(n, log).Register(r.Group(cfg.Server.Prefix))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("node server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("node server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("node server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
	return exitOK
}
