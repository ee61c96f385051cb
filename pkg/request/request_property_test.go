//go:build property
// +build property

package request_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/attestgate/pkg/canonicalize"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/request"
)

// TestBuildDeterminism verifies that identical inputs under a fixed clock
// produce canonically identical requests.
func TestBuildDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	clock := func() time.Time { return time.UnixMilli(42) }

	properties.Property("Build is deterministic", prop.ForAll(
		func(tpl, subject, url string) bool {
			caps := []contracts.HTTPCaptureSpec{{URL: url, Method: "GET"}}
			b := request.NewBuilder(request.WithClock(clock))
			h1, err1 := canonicalize.CanonicalHash(b.Build(tpl, subject, caps, "app"))
			h2, err2 := canonicalize.CanonicalHash(b.Build(tpl, subject, caps, "app"))
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("Build does not alias captures", prop.ForAll(
		func(url string) bool {
			caps := []contracts.HTTPCaptureSpec{{URL: url, Method: "GET"}}
			req := request.NewBuilder(request.WithClock(clock)).Build("tpl", "0x1", caps, "app")
			before := append([]contracts.HTTPCaptureSpec(nil), req.AttMode.HTTPRequests...)
			caps[0].URL = url + "-mutated"
			return reflect.DeepEqual(before, req.AttMode.HTTPRequests)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
