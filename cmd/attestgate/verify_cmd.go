package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/signclient"
	"github.com/Mindburn-Labs/attestgate/pkg/verifier"
)

// runVerifyCmd implements `attestgate verify`.
//
// Checks an attestation against the SignedRequest it answers, using the
// signer's public key given directly or fetched from GET /sign/key.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		signedPath string
		attPath    string
		publicKey  string
		signerURL  string
		jsonOutput bool
	)

	cmd.StringVar(&signedPath, "signed", "", "Path to the SignedRequest JSON (REQUIRED)")
	cmd.StringVar(&attPath, "attestation", "", "Path to the Attestation JSON (REQUIRED)")
	cmd.StringVar(&publicKey, "public-key", "", "Signer public key (hex)")
	cmd.StringVar(&signerURL, "signer", "", "Signer base URL to fetch the public key from")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if signedPath == "" || attPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --signed and --attestation are required")
		return 2
	}
	if publicKey == "" && signerURL == "" {
		_, _ = fmt.Fprintln(stderr, "Error: one of --public-key or --signer is required")
		return 2
	}

	var (
		signed contracts.SignedRequest
		att    contracts.Attestation
	)
	if err := readJSON(signedPath, &signed); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := readJSON(attPath, &att); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if publicKey == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		info, err := signclient.New(signerURL).PublicKey(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: fetch signer key: %v\n", err)
			return 2
		}
		publicKey = info.PublicKey
	}

	v, err := verifier.NewFromHex(publicKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	report := v.Report(&signed, &att)

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if report.Verified {
		_, _ = fmt.Fprintf(stdout, "%sVerified%s request %s (%d checks)\n", ColorBold+ColorGreen, ColorReset, report.RequestID, len(report.Checks))
	} else {
		_, _ = fmt.Fprintf(stdout, "%sVerification failed%s: %s\n", ColorBold+ColorRed, ColorReset, report.FirstFailure())
	}

	if !report.Verified {
		return 1
	}
	return 0
}
