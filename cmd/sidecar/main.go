// Command sidecar is the OpenVoicy speech-to-text sidecar process: a
// local JSON-RPC server over stdio (`serve`) plus a live end-to-end
// probe against a running instance (`self-test`). Wiring mirrors the
// teacher binary's config -> metrics -> managers -> graceful-shutdown
// shape, retargeted from an HTTP voice-assistant server to a stdio
// dispatcher loop.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openvoicy/sidecar/internal/asr"
	_ "github.com/openvoicy/sidecar/internal/asr/parakeet"
	_ "github.com/openvoicy/sidecar/internal/asr/whisper"
	"github.com/openvoicy/sidecar/internal/audio"
	"github.com/openvoicy/sidecar/internal/audiopipe"
	"github.com/openvoicy/sidecar/internal/config"
	"github.com/openvoicy/sidecar/internal/dispatcher"
	"github.com/openvoicy/sidecar/internal/httpapi"
	"github.com/openvoicy/sidecar/internal/modelcache"
	"github.com/openvoicy/sidecar/internal/observability"
	"github.com/openvoicy/sidecar/internal/protocol"
	"github.com/openvoicy/sidecar/internal/resources"
	"github.com/openvoicy/sidecar/internal/selftest"
	"github.com/openvoicy/sidecar/internal/session"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "sidecar",
		Short: "OpenVoicy local speech-to-text sidecar",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newSelfTestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the sidecar request loop on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runServe())
			return nil
		},
	}
}

func newSelfTestCmd() *cobra.Command {
	var timeoutOverride time.Duration
	cmd := &cobra.Command{
		Use:   "self-test",
		Short: "spawn the sidecar and probe it end-to-end",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			timeout := cfg.SelfTestTimeout
			if timeoutOverride > 0 {
				timeout = timeoutOverride
			}
			command, selfArgs := selftest.SplitCommand(cfg.SelfTestCommand)
			if command == "" {
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("resolving self-test target: %w", err)
				}
				command, selfArgs = exe, []string{"serve"}
			}
			report := selftest.Run(context.Background(), selftest.Options{
				Command: command,
				Args:    selfArgs,
				Timeout: timeout,
				DevRoot: cfg.SharedResourceDevRoot,
			})
			selftest.PrintReport(report)
			if !report.Passed() {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeoutOverride, "timeout", 0, "override OPENVOICY_SELF_TEST_TIMEOUT_S")
	return cmd
}

// runServe wires every manager the dispatcher needs and drives the
// request loop to completion, returning the process exit code (§6).
func runServe() int {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := log.New(os.Stderr, "sidecar: ", log.LstdFlags|log.Lmicroseconds)
	metrics := observability.NewMetrics("openvoicy_sidecar")

	cacheRoot := cfg.CacheRootOverride
	if cacheRoot == "" {
		root, err := modelcache.CacheRoot()
		if err != nil {
			log.Fatalf("resolving cache root: %v", err)
		}
		cacheRoot = root
	}
	cache := modelcache.NewCache(cacheRoot)

	resolver := resources.NewResolver(cfg.SharedResourceDevRoot)
	engine := asr.NewEngine(cache, manifestLoaderFor(resolver))

	devices := audio.NewManager(audio.NewPortAudioLister())
	recorder := audio.NewRecorder(audio.NewPortAudioCapturer)
	meter := audio.NewMeter(audio.NewPortAudioCapturer)

	tracker := session.NewTracker(session.DefaultMaxAge)

	writer := protocol.NewWriter(os.Stdout)

	d := dispatcher.New(dispatcher.Options{
		Version:         version,
		Writer:          writer,
		Logger:          logger,
		Resolver:        resolver,
		Devices:         devices,
		Recorder:        recorder,
		Meter:           meter,
		Tracker:         tracker,
		Engine:          engine,
		Cache:           cache,
		FramesPerBuffer: cfg.FramesPerBuffer,
		Metrics:         metrics,
		AudiopipeOptions: audiopipe.Options{
			Normalize:   true,
			TrimSilence: false,
		},
	})

	if cfg.DebugBindAddr != "" && cfg.DebugBindAddr != ":0" {
		startDebugServer(cfg.DebugBindAddr, logger, metrics, func() bool {
			return engine.Status().Ready
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Print("signal received, closing stdin to unwind the request loop")
		_ = os.Stdin.Close()
	}()

	reader := protocol.NewLineReader(os.Stdin)
	return d.Run(reader)
}

// startDebugServer mounts internal/httpapi's trimmed router on a
// best-effort background listener; a bind failure is logged, never
// fatal, since the stdio protocol is the sidecar's only required
// surface (§6).
func startDebugServer(addr string, logger *log.Logger, metrics *observability.Metrics, ready func() bool) {
	api := httpapi.New(metrics, ready)
	srv := &http.Server{Addr: addr, Handler: api.Router()}
	go func() {
		logger.Printf("debug server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("debug server error: %v", err)
		}
	}()
}

// manifestLoaderFor builds an asr.ManifestLoader that resolves modelID
// to a manifest file under shared/model/manifests/ via resolver, the
// same lookup the dispatcher itself performs for model.download.
func manifestLoaderFor(resolver *resources.Resolver) asr.ManifestLoader {
	return func(modelID string) (*modelcache.Manifest, error) {
		path, err := resolver.Resolve(filepath.Join(resources.ModelManifestsDirRel, modelID+".json"))
		if err != nil {
			return nil, err
		}
		return modelcache.LoadManifest(path)
	}
}
