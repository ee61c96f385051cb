// Package policy evaluates per-template CEL rules over a verified attestation
// and extracts the result shown to the user.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

// UnknownSubject is reported when no subject can be extracted.
const UnknownSubject = "Unknown user"

// TemplatePolicy holds the CEL sources for one template. Expressions see two
// variables: attestation (the attestation as a JSON map) and data (the parsed
// attestation.data document, empty when absent).
type TemplatePolicy struct {
	// Predicate must evaluate to bool. Empty allows every attestation.
	Predicate string `yaml:"predicate" json:"predicate,omitempty"`
	// Subject and Fact must evaluate to string. Empty uses the defaults.
	Subject string `yaml:"subject" json:"subject,omitempty"`
	Fact    string `yaml:"fact" json:"fact,omitempty"`
}

// Result is the user-facing outcome of a verified attestation.
type Result struct {
	SubjectID string `json:"subjectId"`
	Fact      string `json:"fact"`
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
	Result  Result
}

// Engine evaluates template policies with a cached program per expression.
type Engine struct {
	env       *cel.Env
	mu        sync.RWMutex
	prgCache  map[string]cel.Program
	templates map[string]TemplatePolicy
}

// NewEngine creates an engine and compiles every expression up front so a bad
// catalog fails at startup.
func NewEngine(templates map[string]TemplatePolicy) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("attestation", cel.DynType),
		cel.Variable("data", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	e := &Engine{
		env:       env,
		prgCache:  make(map[string]cel.Program),
		templates: make(map[string]TemplatePolicy, len(templates)),
	}
	for id, tp := range templates {
		for _, expr := range []string{tp.Predicate, tp.Subject, tp.Fact} {
			if expr == "" {
				continue
			}
			if _, err := e.program(expr); err != nil {
				return nil, fmt.Errorf("template %s: %w", id, err)
			}
		}
		e.templates[id] = tp
	}
	return e, nil
}

// Evaluate applies the template's policy to att.
func (e *Engine) Evaluate(ctx context.Context, templateID string, att *contracts.Attestation) (*Decision, error) {
	if att == nil {
		return nil, fmt.Errorf("attestation is required")
	}
	tp := e.templates[templateID]

	input, err := inputFor(att)
	if err != nil {
		return nil, err
	}

	if tp.Predicate != "" {
		out, err := e.eval(ctx, tp.Predicate, input)
		if err != nil {
			return nil, fmt.Errorf("predicate: %w", err)
		}
		allowed, ok := out.(bool)
		if !ok {
			return nil, fmt.Errorf("predicate result not bool")
		}
		if !allowed {
			return &Decision{Allowed: false, Reason: "template predicate rejected the attestation"}, nil
		}
	}

	res := DefaultResult(att)
	if tp.Subject != "" {
		s, err := e.evalString(ctx, tp.Subject, input)
		if err != nil {
			return nil, fmt.Errorf("subject: %w", err)
		}
		res.SubjectID = s
	}
	if tp.Fact != "" {
		f, err := e.evalString(ctx, tp.Fact, input)
		if err != nil {
			return nil, fmt.Errorf("fact: %w", err)
		}
		res.Fact = f
	}
	return &Decision{Allowed: true, Result: res}, nil
}

func inputFor(att *contracts.Attestation) (map[string]any, error) {
	m, err := att.AsMap()
	if err != nil {
		return nil, fmt.Errorf("attestation input: %w", err)
	}
	return map[string]any{
		"attestation": m,
		"data":        att.DataFields(),
	}, nil
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = p
	return p, nil
}

func (e *Engine) eval(ctx context.Context, expr string, input map[string]any) (any, error) {
	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	return out.Value(), nil
}

func (e *Engine) evalString(ctx context.Context, expr string, input map[string]any) (string, error) {
	out, err := e.eval(ctx, expr, input)
	if err != nil {
		return "", err
	}
	s, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("result not string")
	}
	return s, nil
}

// DefaultResult extracts subject and fact without a template policy.
//
// Subject: data.userId, verificationValue.userId, a string verificationValue,
// then UnknownSubject. Fact: data.kycStatus, verificationValue.kycStatus,
// then verificationContent.
func DefaultResult(att *contracts.Attestation) Result {
	data := att.DataFields()
	value, _ := att.VerificationValue.(map[string]any)

	res := Result{SubjectID: UnknownSubject, Fact: att.VerificationContent}
	switch {
	case stringField(data, "userId") != "":
		res.SubjectID = stringField(data, "userId")
	case stringField(value, "userId") != "":
		res.SubjectID = stringField(value, "userId")
	default:
		if s, ok := att.VerificationValue.(string); ok && s != "" {
			res.SubjectID = s
		}
	}
	switch {
	case stringField(data, "kycStatus") != "":
		res.Fact = stringField(data, "kycStatus")
	case stringField(value, "kycStatus") != "":
		res.Fact = stringField(value, "kycStatus")
	}
	return res
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
