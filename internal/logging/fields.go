package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldUnit is the standardized structured logging key for systemd unit names.
	FieldUnit = "unit"
	// FieldOutputID is the standardized structured logging key for audio output identifiers.
	FieldOutputID = "output_id"
	// FieldEventType labels notable state transitions for log filtering.
	FieldEventType = "event_type"
	// FieldErrorHint carries the operator next step for a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for the user-facing consequence of a warning.
	FieldImpact = "impact"
)
