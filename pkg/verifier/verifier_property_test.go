//go:build property
// +build property

package verifier_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/attestgate/pkg/verifier"
)

// TestVerifyProperties checks idempotence and that any foreign request id or
// signature is rejected.
func TestVerifyProperties(t *testing.T) {
	svc, signed, att := fixture(t)
	v := verifier.New(svc.Verifier())

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Verify is idempotent and does not mutate inputs", prop.ForAll(
		func(n int) bool {
			before := *att
			first := v.Verify(signed, att)
			for i := 0; i < n; i++ {
				if v.Verify(signed, att) != first {
					return false
				}
			}
			return first && before.RequestID == att.RequestID && before.Signature == att.Signature
		},
		gen.IntRange(1, 5),
	))

	properties.Property("foreign request ids are rejected", prop.ForAll(
		func(id string) bool {
			if id == "" || id == signed.RequestID {
				return true
			}
			forged := *att
			forged.RequestID = id
			return !v.Verify(signed, &forged)
		},
		gen.AlphaString(),
	))

	properties.Property("foreign signatures are rejected", prop.ForAll(
		func(sig string) bool {
			if sig == signed.Signature {
				return true
			}
			forged := *att
			forged.Signature = sig
			return !v.Verify(signed, &forged)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
