package executor

// DefaultFallback is shown for decline codes missing from the catalog.
const DefaultFallback = "Attestation failed. Please try again."

// CodeKYCIncomplete is the provider code for an account without finished KYC.
const CodeKYCIncomplete = "00104"

// ErrorCatalog maps provider decline codes to user guidance.
type ErrorCatalog struct {
	Messages map[string]string
	// Templates overrides Messages per template id.
	Templates map[string]map[string]string
	Fallback  string
}

// DefaultCatalog returns the built-in decline table.
func DefaultCatalog() *ErrorCatalog {
	return &ErrorCatalog{
		Messages: map[string]string{
			CodeKYCIncomplete: "Your account has not completed identity verification (KYC). Please finish KYC with the provider, then try again.",
			"00001":           "The attestation extension could not start. Please reload the page and try again.",
			"00002":           "The attestation timed out. Please keep the provider page open until it completes.",
			"00004":           "The attestation was cancelled.",
			"00005":           "Please log in to the provider in the opened tab, then try again.",
			"00012":           "The provider response did not contain the expected data.",
			"00103":           "The provider could not be reached. Check your connection and try again.",
		},
		Fallback: DefaultFallback,
	}
}

// Message returns the guidance for code under templateID.
func (c *ErrorCatalog) Message(templateID, code string) string {
	if c == nil {
		return DefaultFallback
	}
	if byTpl, ok := c.Templates[templateID]; ok {
		if m, ok := byTpl[code]; ok && m != "" {
			return m
		}
	}
	if m, ok := c.Messages[code]; ok && m != "" {
		return m
	}
	if c.Fallback != "" {
		return c.Fallback
	}
	return DefaultFallback
}

// WithTemplate returns a copy of c with overrides for templateID.
func (c *ErrorCatalog) WithTemplate(templateID string, messages map[string]string) *ErrorCatalog {
	cp := &ErrorCatalog{Messages: c.Messages, Fallback: c.Fallback, Templates: map[string]map[string]string{}}
	for k, v := range c.Templates {
		cp.Templates[k] = v
	}
	cp.Templates[templateID] = messages
	return cp
}
