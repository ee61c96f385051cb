package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"
)

func runHealthCmd(args []string, out, errOut io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(errOut)
	url := cmd.String("url", "http://localhost:"+envOr("PORT", "8080")+"/health", "Health endpoint")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*url)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_, _ = fmt.Fprintf(errOut, "Health check failed: status %d %s\n", resp.StatusCode, body)
		return 1
	}

	_, _ = fmt.Fprintln(out, "OK")
	return 0
}
