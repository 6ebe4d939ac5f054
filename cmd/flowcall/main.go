// Command flowcall is an interactive voice call client for the flowcall
// conversation service. It captures microphone audio, exchanges it with the
// backend, and plays the spoken replies.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/snehlabs/flowcall/internal/backend"
	"github.com/snehlabs/flowcall/internal/call"
	"github.com/snehlabs/flowcall/internal/config"
	"github.com/snehlabs/flowcall/internal/health"
	"github.com/snehlabs/flowcall/internal/observe"
	"github.com/snehlabs/flowcall/pkg/audio/portaudio"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	userName := flag.String("name", "", "display name sent with typed messages")
	utterance := flag.Duration("utterance", 5*time.Second, "how long one push-to-talk recording lasts")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("config file not found, using defaults", "path", *configPath)
			cfg = config.Default()
		} else {
			fmt.Fprintf(os.Stderr, "flowcall: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("flowcall starting",
		"config", *configPath,
		"backend", cfg.Backend.HTTPBaseURL(),
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "flowcall",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio devices ─────────────────────────────────────────────────────────
	system, err := portaudio.NewSystem()
	if err != nil {
		slog.Error("failed to initialise audio", "err", err)
		return 1
	}
	defer system.Close()

	format := cfg.Audio.Format()
	recorder := system.Recorder(format)
	player := system.Player(format)

	// ── Backend client and orchestrator ───────────────────────────────────────
	client := backend.New(cfg.Backend.HTTPBaseURL(),
		backend.WithIntensity(cfg.Backend.Intensity))

	orch := call.New(cfg, client, recorder, player,
		call.WithUserName(*userName),
		call.WithOnMessage(printMessage),
		call.WithOnStatus(func(s call.Status) {
			fmt.Printf("── call %s ──\n", s)
		}),
	)

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the intensity preference is applied live; everything else needs a
	// restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if old.Backend.Intensity == new.Backend.Intensity {
			return
		}
		if err := orch.SetIntensity(new.Backend.Intensity); err != nil {
			slog.Warn("applying reloaded intensity failed", "err", err)
		}
	})
	if err != nil {
		slog.Debug("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Diagnostics endpoint ──────────────────────────────────────────────────
	if cfg.MetricsAddr != "" {
		h := health.New(health.Backend(client))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: h.Routes()}
		go func() {
			slog.Info("diagnostics endpoint listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("diagnostics endpoint failed", "err", err)
			}
		}()
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shCtx)
		}()
	}

	printWelcome(cfg, *utterance)

	if err := interact(ctx, orch, *utterance); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	orch.EndCall()
	slog.Info("goodbye")
	return 0
}

// callController is the slice of the orchestrator the reader loop drives.
type callController interface {
	Status() call.Status
	StartCall(ctx context.Context) error
	EndCall()
	SendUtterance(ctx context.Context, d time.Duration) error
	SendText(ctx context.Context, text string) error
	SetIntensity(intensity string) error
}

// interact runs the reader loop: a line of input per action, until EOF or the
// signal context ends.
func interact(ctx context.Context, orch callController, utterance time.Duration) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, orch, line, utterance); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Printf("error: %v\n", err)
			}
		}
	}
}

// errQuit signals a clean exit from the reader loop.
var errQuit = errors.New("quit")

func handleLine(ctx context.Context, orch callController, line string, utterance time.Duration) error {
	line = strings.TrimSpace(line)

	switch {
	case line == "":
		// Push to talk: an empty line records one utterance. Once the call is
		// realtime the capture loop owns the microphone and streams
		// continuously, so recording a second slice would only fight it over
		// the device.
		if orch.Status() == call.StatusRealtime {
			fmt.Println("microphone is live — just speak")
			return nil
		}
		if orch.Status() == call.StatusDisconnected {
			if err := orch.StartCall(ctx); err != nil {
				return err
			}
		}
		fmt.Printf("recording %s…\n", utterance)
		return orch.SendUtterance(ctx, utterance)

	case line == "/call":
		return orch.StartCall(ctx)

	case line == "/end":
		orch.EndCall()
		return nil

	case line == "/quit", line == "/exit":
		return errQuit

	case strings.HasPrefix(line, "/intensity "):
		return orch.SetIntensity(strings.TrimSpace(strings.TrimPrefix(line, "/intensity ")))

	case strings.HasPrefix(line, "/"):
		fmt.Println("commands: <enter> talk · /call · /end · /intensity <value> · /quit · anything else is sent as text")
		return nil

	default:
		if orch.Status() == call.StatusDisconnected {
			if err := orch.StartCall(ctx); err != nil {
				return err
			}
		}
		return orch.SendText(ctx, line)
	}
}

// printMessage renders one conversation message. Streamed messages repeat
// with the same ID as their text grows; printing each update keeps the loop
// simple at the cost of some repetition.
func printMessage(m call.Message) {
	if m.Text == "" {
		return
	}
	fmt.Printf("%s: %s\n", m.Role, m.Text)
}

func printWelcome(cfg *config.Config, utterance time.Duration) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║        flowcall — voice client         ║")
	fmt.Println("╠════════════════════════════════════════╣")
	fmt.Printf("║  Backend    : %-24s ║\n", trim(cfg.Backend.HTTPBaseURL(), 24))
	fmt.Printf("║  Intensity  : %-24s ║\n", trim(cfg.Backend.Intensity, 24))
	fmt.Printf("║  Audio      : %-24s ║\n", trim(fmt.Sprintf("%d Hz / %d ch", cfg.Audio.SampleRate, cfg.Audio.Channels), 24))
	fmt.Printf("║  Utterance  : %-24s ║\n", trim(utterance.String(), 24))
	if cfg.MetricsAddr != "" {
		fmt.Printf("║  Metrics    : %-24s ║\n", trim(cfg.MetricsAddr, 24))
	}
	fmt.Println("╚════════════════════════════════════════╝")
	fmt.Println("press Enter to talk, type to chat, /quit to leave")
}

func trim(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
