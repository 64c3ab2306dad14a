// Command hdsfilter fetches an HDS (F4M/F4F) stream and writes the
// synthesized FLV byte stream to a file, the HDS analogue of
// cmd/dashfetcher for DASH.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-hds/hdsadapter/cmd/hdsfilter/app"
	"github.com/go-hds/hdsadapter/internal"
	"github.com/go-hds/hdsadapter/pkg/logging"
)

func main() {
	cfg, err := app.LoadConfig(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.Version {
		fmt.Printf("hdsfilter: %s\n", internal.GetVersion())
		os.Exit(0)
	}

	if err := logging.InitSlog(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	go func() {
		<-signalChan
		cancel()
	}()

	reg := prometheus.NewRegistry()

	filter, err := app.Open(ctx, cfg, slog.Default(), reg)
	if err != nil {
		slog.Error("opening stream", "error", err)
		os.Exit(1)
	}
	defer filter.Close()

	if cfg.DebugPort > 0 {
		ds := app.NewDebugServer(filter, reg, slog.Default())
		go func() {
			addr := net.JoinHostPort("", strconv.Itoa(cfg.DebugPort))
			slog.Info("debug server listening", "addr", addr)
			if err := ds.ListenAndServe(ctx, addr); err != nil {
				slog.Error("debug server", "error", err)
			}
		}()
	}

	outPath := outputPath(cfg.ManifestURL)
	slog.Info("writing stream", "manifest", cfg.ManifestURL, "output", outPath)

	out, err := os.Create(outPath)
	if err != nil {
		slog.Error("creating output file", "error", err)
		os.Exit(1)
	}
	defer out.Close()

	n, err := io.Copy(out, readerFunc(filter.Read))
	if err != nil {
		slog.Error("streaming", "error", err, "bytesWritten", n)
		os.Exit(1)
	}
	slog.Info("done", "bytesWritten", n)
}

// readerFunc adapts Filter.Read's method value to an io.Reader.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(buf []byte) (int, error) { return f(buf) }

// outputPath derives <cwd>/<last-path-segment-without-extension>.flv from
// the manifest URL, the same bare-minimum naming cmd/dashfetcher falls
// back to before AutoDir is requested.
func outputPath(manifestURL string) string {
	parts := strings.Split(manifestURL, "/")
	name := parts[len(parts)-1]
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" {
		name = "stream"
	}
	return name + ".flv"
}
