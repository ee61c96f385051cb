package request

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

// Sign-parameter rejection codes.
const (
	CodeSignParamsRequired = "sign_params_required"
	CodeSignParamsFormat   = "sign_params_format"
	CodeSignParamsFields   = "sign_params_fields"
)

var requiredFields = []string{"appId", "attTemplateID", "userAddress", "timestamp"}

const signParamsSchemaURL = "https://attestgate.schemas.local/sign-params.schema.json"

const signParamsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["appId", "attTemplateID", "userAddress", "timestamp"],
  "properties": {
    "appId": {"type": "string", "minLength": 1},
    "attTemplateID": {"type": "string", "minLength": 1},
    "userAddress": {"type": "string", "minLength": 1},
    "timestamp": {"type": "integer", "exclusiveMinimum": 0},
    "attMode": {
      "type": "object",
      "properties": {
        "algorithmType": {"type": "string"},
        "resultType": {"type": "string"},
        "withExtension": {"type": "boolean"},
        "httpRequests": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["url", "method"],
            "properties": {
              "url": {"type": "string", "minLength": 1},
              "method": {"type": "string", "minLength": 1},
              "headers": {"type": "object", "additionalProperties": {"type": "string"}},
              "queryString": {"type": "string"},
              "urlType": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(signParamsSchemaURL, strings.NewReader(signParamsSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(signParamsSchemaURL)
	})
	return schema, schemaErr
}

// ParseSignParams decodes the signParams field of a sign call. The field may
// hold the request object itself or its JSON serialization as a string.
//
// Rejections are validation errors whose messages are stable API text:
// a missing field, unparseable JSON, a request lacking any of appId,
// attTemplateID, userAddress or timestamp, and schema violations.
func ParseSignParams(raw json.RawMessage) (*contracts.AttestationRequest, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, attesterr.New(attesterr.KindValidation, CodeSignParamsRequired, "signParams is required")
	}

	doc := trimmed
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, formatError(err)
		}
		if strings.TrimSpace(s) == "" {
			return nil, attesterr.New(attesterr.KindValidation, CodeSignParamsRequired, "signParams is required")
		}
		doc = []byte(s)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, formatError(err)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, attesterr.New(attesterr.KindValidation, CodeSignParamsFormat, "Invalid signParams format").
			WithDetail("signParams must be a JSON object", nil)
	}
	if missing := missingFields(obj); len(missing) > 0 {
		return nil, attesterr.New(attesterr.KindValidation, CodeSignParamsFields,
			"signParams missing required fields (appId, attTemplateID, userAddress, timestamp)").
			WithDetail("missing: "+strings.Join(missing, ", "), nil)
	}

	sch, err := compiledSchema()
	if err != nil {
		return nil, attesterr.Configuration("sign params schema unavailable", err)
	}
	if err := sch.Validate(obj); err != nil {
		return nil, formatError(err)
	}

	var req contracts.AttestationRequest
	if err := json.Unmarshal(doc, &req); err != nil {
		return nil, formatError(err)
	}
	return &req, nil
}

func formatError(cause error) error {
	return attesterr.New(attesterr.KindValidation, CodeSignParamsFormat, "Invalid signParams format").
		WithDetail(cause.Error(), cause)
}

// missingFields lists required fields that are absent or hold a zero value.
func missingFields(obj map[string]any) []string {
	var missing []string
	for _, f := range requiredFields {
		switch v := obj[f].(type) {
		case nil:
			missing = append(missing, f)
		case string:
			if v == "" {
				missing = append(missing, f)
			}
		case json.Number:
			if v.String() == "0" {
				missing = append(missing, f)
			}
		case bool:
			if !v {
				missing = append(missing, f)
			}
		}
	}
	return missing
}
