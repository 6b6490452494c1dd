package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/0xgxthxb/bytehound/internal/httpapi"
	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/registry"
	"github.com/0xgxthxb/bytehound/pkg/script"
)

// shutdownGrace is the maximum time graceful shutdown waits for in-flight
// requests, per spec.md §5 ("graceful shutdown waits at most 1 second for
// in-flight work").
const shutdownGrace = 1 * time.Second

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	if err := run(logger, os.Args[1:]); err != nil {
		level.Error(logger).Log("msg", "fatal error", "err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger, args []string) error {
	var cfg Config
	fs := flag.NewFlagSet("bytehound-server", flag.ContinueOnError)
	cfg.RegisterFlags(fs)

	var debugSymbols multiFlag
	fs.Var(&debugSymbols, "debug-symbols", "path to a debug symbols file (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Inputs = fs.Args()
	cfg.DebugSymbolsPaths = debugSymbols

	if err := cfg.Validate(); err != nil {
		return err
	}

	symbols := make([]capture.DebugSymbols, len(cfg.DebugSymbolsPaths))
	for i, p := range cfg.DebugSymbolsPaths {
		symbols[i] = capture.DebugSymbols{Path: p}
	}

	captures, err := loadCaptures(logger, capture.NewJSONLoader(), cfg.Inputs, symbols, cfg.LoadInParallel)
	if err != nil {
		return fmt.Errorf("loading captures: %w", err)
	}

	reg := registry.New(captures)
	engine := script.NewDefaultEngine()
	server := httpapi.NewServer(reg, engine, nil, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Interface, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("address %s already in use, try a different --port: %w", addr, err)
		}
		return err
	}

	httpServer := &http.Server{Handler: server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "listening", "addr", addr)
		errCh <- httpServer.Serve(listener)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-sigCh:
		level.Info(logger).Log("msg", "shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(ctx)
	}
}

// loadCaptures loads every input, sequentially or concurrently, aborting
// on the first failure (spec.md §6 "a load failure aborts startup with
// the underlying error").
func loadCaptures(logger log.Logger, loader capture.Loader, inputs []string, symbols []capture.DebugSymbols, parallel bool) ([]*capture.Data, error) {
	results := make([]*capture.Data, len(inputs))
	errs := make([]error, len(inputs))

	load := func(i int) {
		f, err := os.Open(inputs[i])
		if err != nil {
			errs[i] = err
			return
		}
		defer f.Close()

		level.Info(logger).Log("msg", "loading capture", "path", inputs[i])
		data, err := loader.Load(f, symbols)
		if err != nil {
			errs[i] = fmt.Errorf("%s: %w", inputs[i], err)
			return
		}
		results[i] = data
	}

	if parallel {
		var wg sync.WaitGroup
		wg.Add(len(inputs))
		for i := range inputs {
			go func(i int) {
				defer wg.Done()
				load(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range inputs {
			load(i)
		}
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// multiFlag implements flag.Value for a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string {
	return fmt.Sprintf("%v", []string(*m))
}

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
