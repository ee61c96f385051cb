package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/request"
	"github.com/Mindburn-Labs/attestgate/pkg/signclient"
)

// runSignCmd implements `attestgate sign`.
//
// Builds an AttestationRequest and submits it to a signer, printing the
// SignedRequest as JSON.
//
// Exit codes:
//
//	0 = signed
//	1 = signer rejected the request
//	2 = usage or input error
func runSignCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sign", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		signerURL  string
		appID      string
		templateID string
		address    string
		captures   string
		relay      bool
		timeout    time.Duration
	)

	cmd.StringVar(&signerURL, "signer", envOr("ATTESTGATE_SIGNER_URL", "http://localhost:8080"), "Signer base URL")
	cmd.StringVar(&appID, "app", os.Getenv("APP_ID"), "Application id")
	cmd.StringVar(&templateID, "template", "", "Attestation template id (REQUIRED)")
	cmd.StringVar(&address, "address", "", "Subject address (REQUIRED)")
	cmd.StringVar(&captures, "captures", "", "JSON file holding the capture specs")
	cmd.BoolVar(&relay, "relay", false, "Run the request over the OAuth relay instead of the extension")
	cmd.DurationVar(&timeout, "timeout", 30*time.Second, "Signer call timeout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if templateID == "" || address == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --template and --address are required")
		return 2
	}

	var specs []contracts.HTTPCaptureSpec
	if captures != "" {
		if err := readJSON(captures, &specs); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	req := request.NewBuilder(request.WithExtension(!relay)).Build(templateID, address, specs, appID)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	signed, err := signclient.New(signerURL).Sign(ctx, req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %s\n", attesterr.Describe(err))
		if attesterr.KindOf(err) == attesterr.KindValidation {
			return 2
		}
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(signed); err != nil {
		return 1
	}
	return 0
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
