package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/attestgate/pkg/api"
	"github.com/Mindburn-Labs/attestgate/pkg/artifacts"
	"github.com/Mindburn-Labs/attestgate/pkg/config"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/crypto"
	"github.com/Mindburn-Labs/attestgate/pkg/executor"
	"github.com/Mindburn-Labs/attestgate/pkg/policy"
	"github.com/Mindburn-Labs/attestgate/pkg/request"
	"github.com/Mindburn-Labs/attestgate/pkg/session"
	"github.com/Mindburn-Labs/attestgate/pkg/signclient"
	"github.com/Mindburn-Labs/attestgate/pkg/signing"
	"github.com/Mindburn-Labs/attestgate/pkg/store"
	"github.com/Mindburn-Labs/attestgate/pkg/verifier"
	"github.com/Mindburn-Labs/attestgate/pkg/versioning"
)

const demoOrigin = "http://localhost:3000"

const demoCatalog = `
templates:
  - id: binance-kyc
    name: Binance KYC status
    captures:
      - url: https://www.binance.com/bapi/kyc/v2/private/certificate/user-kyc/current-kyc-status
        method: POST
    policy:
      predicate: data.kycStatus == "APPROVED"
      subject: data.userId
      fact: data.kycStatus
`

// demoExtension answers startAttestation the way the real extension does:
// it replays the requested captures and posts startAttestationRes to the page.
type demoExtension struct {
	demux   *executor.Demux
	decline string
	tamper  bool
	kyc     string
}

func (d *demoExtension) Detected() bool  { return true }
func (d *demoExtension) Version() string { return "0.3.12" }

func (d *demoExtension) SendMessage(_ context.Context, _ string, msg contracts.ExtensionRequest, _ func(*contracts.ExtensionResult)) error {
	signed := msg.Params.SignedRequest
	go func() {
		time.Sleep(50 * time.Millisecond)
		res := d.respond(&signed)
		raw, err := executor.MarshalForPage(contracts.MessageStartAttestationRes, res)
		if err != nil {
			return
		}
		_, _ = d.demux.DispatchRaw(demoOrigin, raw)
	}()
	return nil
}

func (d *demoExtension) respond(signed *contracts.SignedRequest) contracts.ExtensionResult {
	if d.decline != "" {
		return contracts.ExtensionResult{ErrorData: &contracts.ExtensionErrorData{Code: d.decline, Desc: "declined by demo extension"}}
	}

	exchanges := make([]contracts.CapturedExchange, 0, len(signed.AttMode.HTTPRequests))
	for _, spec := range signed.AttMode.HTTPRequests {
		exchanges = append(exchanges, contracts.CapturedExchange{
			HTTPCaptureSpec: spec,
			Response:        &contracts.CapturedResponse{Status: http.StatusOK, Body: map[string]any{"kycStatus": d.kyc}},
		})
	}
	data, _ := json.Marshal(map[string]string{"userId": "demo-" + signed.SubjectAddress, "kycStatus": d.kyc})
	att := &contracts.Attestation{
		VerificationContent: "KYC Status",
		VerificationValue:   map[string]any{"kycStatus": d.kyc},
		DataSourceID:        "binance",
		AttestationType:     "Humanity Verification",
		Data:                string(data),
		Requests:            exchanges,
		RequestID:           signed.RequestID,
		Signature:           signed.Signature,
		AlgorithmType:       signed.AlgorithmType,
		Timestamp:           time.Now().UnixMilli(),
	}
	if d.tamper {
		att.Requests = nil
	}
	return contracts.ExtensionResult{Result: true, Data: att}
}

// runDemoCmd implements `attestgate demo`: a local signer, ledger and
// simulated extension driving one session attempt end to end.
//
//nolint:gocognit
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		templateID string
		address    string
		templates  string
		dataDir    string
		decline    string
		kyc        string
		tamper     bool
		verbose    bool
	)

	cmd.StringVar(&templateID, "template", "binance-kyc", "Template id")
	cmd.StringVar(&address, "address", "0x7ab3000000000000000000000000000000000001", "Subject address")
	cmd.StringVar(&templates, "templates", "", "YAML template catalog (default: built-in)")
	cmd.StringVar(&dataDir, "data-dir", "", "Ledger directory (default: temporary)")
	cmd.StringVar(&decline, "decline", "", "Have the extension decline with this provider code")
	cmd.StringVar(&kyc, "kyc-status", "APPROVED", "KYC status reported by the provider")
	cmd.BoolVar(&tamper, "tamper", false, "Strip the captured exchanges from the attestation")
	cmd.BoolVar(&verbose, "v", false, "Log protocol steps")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	if dataDir == "" {
		dir, err := os.MkdirTemp("", "attestgate-demo-")
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer func() { _ = os.RemoveAll(dir) }()
		dataDir = dir
	}

	var (
		catalog *config.Catalog
		err     error
	)
	if templates != "" {
		catalog, err = config.LoadCatalog(templates)
	} else {
		catalog, err = config.ParseCatalog([]byte(demoCatalog))
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	tpl, ok := catalog.Get(templateID)
	if !ok {
		_, _ = fmt.Fprintf(stderr, "Error: unknown template %q\n", templateID)
		return 2
	}
	if tpl.Relay() {
		_, _ = fmt.Fprintf(stderr, "Error: template %q runs over the %s relay; the demo drives the extension channel only\n", templateID, tpl.Provider)
		return 2
	}

	ctx := context.Background()

	ledger, err := store.Open(ctx, "", dataDir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = ledger.Close() }()

	sealKey, err := crypto.NewEd25519Signer("demo-archive")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	sealVerifier, _ := crypto.NewEd25519Verifier(sealKey.PublicKeyBytes())
	blobs, err := artifacts.NewFileStore(filepath.Join(dataDir, "artifacts"))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	archive := artifacts.NewArchive(blobs, sealKey, sealVerifier, "attestgate-demo")
	ledger.WithArchive(archive)

	const appID = "attestgate-demo"
	svc, err := signing.NewService(appID, uuid.NewString(), signing.WithIssuanceLog(ledger))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	mux := http.NewServeMux()
	api.NewSignHandler(svc).Register(mux)
	httpServer := &http.Server{
		Handler:           api.Chain(mux, api.RequestIDMiddleware, api.IdempotencyMiddleware(ledger.Idempotency(time.Hour))),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = httpServer.Serve(ln) }()
	defer func() { _ = httpServer.Close() }()
	signerURL := "http://" + ln.Addr().String()

	signer := signclient.New(signerURL)
	key, err := signer.PublicKey(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: fetch signer key: %v\n", err)
		return 1
	}
	v, err := verifier.NewFromHex(key.PublicKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	engine, err := policy.NewEngine(catalog.Policies())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	demux := executor.NewDemux(demoOrigin)
	ext := executor.NewExtensionExecutor(&demoExtension{demux: demux, decline: decline, tamper: tamper, kyc: kyc}, envOr("EXTENSION_ID", "demo-extension"), demux)
	ext.Catalog = catalog.ErrorCatalog()
	if c := os.Getenv("EXTENSION_VERSION_CONSTRAINT"); c != "" {
		gate, err := versioning.NewGate(c)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		ext.Gate = gate
	}

	sess := session.New(&session.Client{
		AppID:    appID,
		Builder:  request.NewBuilder(),
		Signer:   signer,
		Executor: &executor.Router{Extension: ext},
		Verifier: v,
		Policy:   engine,
		Recorder: ledger,
	})
	unsubscribe := sess.Subscribe(func(s session.Snapshot) {
		line := fmt.Sprintf("  %s%-10s%s", ColorCyan, s.Status, ColorReset)
		if s.ActiveRequestID != "" {
			line += " request=" + s.ActiveRequestID
		}
		_, _ = fmt.Fprintln(stdout, line)
	})
	defer unsubscribe()

	_, _ = fmt.Fprintf(stdout, "%sattestgate demo%s template=%s signer=%s\n", ColorBold+ColorBlue, ColorReset, templateID, signerURL)

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	done, err := sess.Start(runCtx, session.Target{
		TemplateID:     templateID,
		SubjectAddress: address,
		Captures:       tpl.Captures,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var final session.Snapshot
	select {
	case snap, ok := <-done:
		if !ok {
			_, _ = fmt.Fprintln(stderr, "Error: attempt dismissed")
			return 1
		}
		final = snap
	case <-runCtx.Done():
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", runCtx.Err())
		return 1
	}

	if final.Status != session.StatusVerified {
		_, _ = fmt.Fprintf(stdout, "%sFailed%s: %s\n", ColorBold+ColorRed, ColorReset, final.Error)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%sVerified%s subject=%s fact=%s\n", ColorBold+ColorGreen, ColorReset, final.Result.SubjectID, final.Result.Fact)
	attempts, err := ledger.AttemptsForRequest(ctx, final.RequestID)
	if err == nil && len(attempts) > 0 && attempts[0].EvidenceRef != "" {
		_, _ = fmt.Fprintf(stdout, "  evidence %s\n", attempts[0].EvidenceRef)
	}
	return 0
}
