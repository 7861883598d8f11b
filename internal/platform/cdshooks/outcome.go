package cdshooks

// OperationOutcome is the error body CDS Hooks borrows from FHIR. Only the
// fields this service emits are modeled.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

// ErrorOutcome builds the body for a malformed or mismatched request.
func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("error", "processing", diagnostics)
}

// NotFoundOutcome builds the body for an unknown service ID.
func NotFoundOutcome(kind, id string) *OperationOutcome {
	return NewOperationOutcome("error", "not-found", kind+"/"+id+" not found")
}

// InternalErrorOutcome builds the body for a handler failure.
func InternalErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("fatal", "exception", diagnostics)
}
