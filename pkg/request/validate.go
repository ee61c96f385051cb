package request

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

var validate = validator.New()

// Validate checks the structural requirements of req: non-empty app id,
// template id, subject address and algorithm, a positive timestamp, and a
// url and method on every capture spec.
func Validate(req *contracts.AttestationRequest) error {
	if req == nil {
		return attesterr.Validation("attestation request is required", nil)
	}
	if err := validate.Struct(req); err != nil {
		return attesterr.Validation("invalid attestation request: "+describe(err), err)
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(fields, ", ")
}
