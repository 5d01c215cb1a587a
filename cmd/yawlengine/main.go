// Command yawlengine is the thin CLI/HTTP collaborator over
// internal/engine's boundary: compile an RDF workflow into a signed
// IR image, start/drive cases against it, and tail their receipt
// chains. Grounded on services/orchestrator/main.go's shape (obslog +
// otelinit bootstrap, signal.NotifyContext for graceful shutdown, a
// background HTTP server) adapted from an HTTP-only service into a CLI
// with an HTTP side-channel that serves only /health.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/swarmguard/workflow-engine/internal/cert"
	"github.com/swarmguard/workflow-engine/internal/compiler"
	"github.com/swarmguard/workflow-engine/internal/config"
	"github.com/swarmguard/workflow-engine/internal/engine"
	"github.com/swarmguard/workflow-engine/internal/guard"
	"github.com/swarmguard/workflow-engine/internal/ir"
	"github.com/swarmguard/workflow-engine/internal/obslog"
	"github.com/swarmguard/workflow-engine/internal/otelinit"
	"github.com/swarmguard/workflow-engine/internal/receipts"
	"github.com/swarmguard/workflow-engine/internal/store"
	"github.com/swarmguard/workflow-engine/internal/timebase"
)

// Exit codes per §6's CLI surface.
const (
	exitOK           = 0
	exitInvalidInput = 2
	exitRefused      = 3
	exitRuntimeError = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitInvalidInput
	}

	cfg := config.Load()
	obslog.Init(cfg.Service)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTrace, err := otelinit.InitTracer(ctx, cfg.Service)
	if err != nil {
		slog.Warn("tracer init failed, continuing without traces", "error", err)
	}
	shutdownMetrics, _, err := otelinit.InitMetrics(ctx, cfg.Service)
	if err != nil {
		slog.Warn("metrics init failed, continuing without metrics", "error", err)
	}
	defer func() {
		fctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if shutdownTrace != nil {
			_ = otelinit.Flush(fctx, shutdownTrace)
		}
		if shutdownMetrics != nil {
			_ = shutdownMetrics(fctx)
		}
	}()

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		slog.Error("open store", "error", err)
		return exitRuntimeError
	}
	defer st.Close()

	recvStore, err := receipts.OpenDurableStore(cfg.ReceiptStorePath)
	if err != nil {
		slog.Error("open receipt store", "error", err)
		return exitRuntimeError
	}
	defer recvStore.Close()

	signer, pub, err := loadOrCreateSigner(cfg.VerifyingKeyPath)
	if err != nil {
		slog.Error("load signing key", "error", err)
		return exitRuntimeError
	}

	loader := cert.NewLoader(pub, engineISA(), engineInvariants(), uint8(cfg.TickBudget))
	recvLog := receipts.New(recvStore, nil)

	eng, err := engine.New(8, st, st, recvLog, loader, timebase.NewSysClock())
	if err != nil {
		slog.Error("start engine", "error", err)
		return exitRuntimeError
	}
	defer eng.Shutdown()

	stopMetricsServer := serveMetrics(cfg.HTTPAddr)
	defer stopMetricsServer()

	switch args[0] {
	case "compile":
		return cmdCompile(args[1:], eng, signer)
	case "start":
		return cmdStart(ctx, args[1:], eng)
	case "deliver":
		return cmdDeliver(args[1:], eng)
	case "tail":
		return cmdTail(args[1:], eng)
	case "warp":
		return cmdWarp(args[1:], eng)
	default:
		usage()
		return exitInvalidInput
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: yawlengine <compile|start|deliver|tail|warp> ...")
}

// cmdCompile runs μ over the named RDF file, loads the resulting
// image into the engine, and prints the new spec id.
func cmdCompile(args []string, eng *engine.Engine, signer *cert.Signer) int {
	if len(args) != 1 {
		usage()
		return exitInvalidInput
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		slog.Error("read rdf", "error", err)
		return exitInvalidInput
	}

	result, err := compiler.Compile([]compiler.Source{{Name: args[0], Data: data}}, nil, signer)
	if err != nil {
		switch err.(type) {
		case *compiler.ShapeViolation, *compiler.UnknownPattern, *compiler.GuardOverBudget, *compiler.PatternOverBudget:
			slog.Error("compile refused", "error", err)
			return exitRefused
		default:
			slog.Error("compile failed", "error", err)
			return exitInvalidInput
		}
	}

	blob, err := result.Image.Marshal()
	if err != nil {
		slog.Error("marshal image", "error", err)
		return exitRuntimeError
	}
	specID, err := eng.LoadIR(blob, result.Token)
	if err != nil {
		slog.Error("load compiled image", "error", err)
		return exitRefused
	}
	fmt.Println(specID)
	return exitOK
}

func cmdStart(ctx context.Context, args []string, eng *engine.Engine) int {
	if len(args) != 1 {
		usage()
		return exitInvalidInput
	}
	caseID, err := eng.StartCase(ctx, args[0], guard.SigmaTable(nil))
	if err != nil {
		if _, ok := err.(*engine.UnknownSpecError); ok {
			slog.Error("start case", "error", err)
			return exitInvalidInput
		}
		slog.Error("start case", "error", err)
		return exitRuntimeError
	}
	fmt.Println(caseID)
	return exitOK
}

func cmdDeliver(args []string, eng *engine.Engine) int {
	if len(args) != 2 {
		usage()
		return exitInvalidInput
	}
	if err := eng.DeliverEvent(args[0], args[1]); err != nil {
		slog.Error("deliver event", "error", err)
		return exitInvalidInput
	}
	return exitOK
}

func cmdTail(args []string, eng *engine.Engine) int {
	if len(args) != 1 {
		usage()
		return exitInvalidInput
	}
	entries, err := eng.ExportReceipts(args[0], 0)
	if err != nil {
		slog.Error("export receipts", "error", err)
		return exitInvalidInput
	}
	enc := json.NewEncoder(os.Stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			slog.Error("encode receipt", "error", err)
			return exitRuntimeError
		}
	}
	return exitOK
}

func cmdWarp(args []string, eng *engine.Engine) int {
	if len(args) != 1 {
		usage()
		return exitInvalidInput
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		slog.Error("parse duration", "error", err)
		return exitInvalidInput
	}
	if err := eng.Warp(d); err != nil {
		slog.Error("warp", "error", err)
		return exitRuntimeError
	}
	return exitOK
}

// engineISA is the running engine's full supported opcode set, a
// superset of whatever subset any single compiled image's certificate
// declares (cert.Loader.Verify checks image-ISA ⊆ engine-ISA).
func engineISA() []ir.Opcode {
	return []ir.Opcode{
		ir.OpPushConst, ir.OpReadObs, ir.OpLoadSigma,
		ir.OpCompareEQ, ir.OpCompareLT, ir.OpCompareLE, ir.OpCompareGT, ir.OpCompareGE,
		ir.OpAnd, ir.OpOr,
	}
}

// engineInvariants is the running engine's full registered invariant
// set; see internal/compiler/certify.go for the fixed ["I1","I2","I3"]
// every compiled certificate currently declares.
func engineInvariants() []string {
	return []string{"I1", "I2", "I3"}
}

// loadOrCreateSigner persists a 32-byte Ed25519 seed at path across
// process invocations (compile and start are typically separate CLI
// runs, and the loader's verifying key must stay stable between
// them); an empty path falls back to a fresh, non-persistent key,
// useful for one-shot tests.
func loadOrCreateSigner(path string) (*cert.Signer, ed25519.PublicKey, error) {
	if path == "" {
		return cert.NewSigner()
	}
	if seed, err := os.ReadFile(path); err == nil && len(seed) == ed25519.SeedSize {
		return cert.NewSignerFromSeed(seed)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, nil, fmt.Errorf("generate signing seed: %w", err)
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		slog.Warn("persist signing key failed, key will not survive restart", "error", err)
	}
	return cert.NewSignerFromSeed(seed)
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return func() {
		fctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(fctx)
	}
}
