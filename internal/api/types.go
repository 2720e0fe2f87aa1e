package api

// Output is a playback destination reported by the audio server, merged with
// the persisted default configuration for that output.
type Output struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Selected      bool   `json:"selected"`
	Volume        int    `json:"volume"`
	Default       bool   `json:"default"`
	DefaultVolume *int   `json:"default_volume,omitempty"`
}

// Activity is the combined running state of the core and pipe units.
type Activity struct {
	CoreActive bool `json:"core_active"`
	PipeActive bool `json:"pipe_active"`
	BothActive bool `json:"both_active"`
}

// Event type discriminators used on the push channels.
const (
	EventTypeStatus  = "status"
	EventTypeOutputs = "outputs"
)

// StatusEvent is pushed whenever combined unit activity changes.
type StatusEvent struct {
	Type       string `json:"type"`
	CoreActive bool   `json:"core_active"`
	PipeActive bool   `json:"pipe_active"`
	BothActive bool   `json:"both_active"`
}

// OutputsEvent is pushed whenever the merged output list changes.
type OutputsEvent struct {
	Type    string   `json:"type"`
	Outputs []Output `json:"outputs"`
}

// NewStatusEvent builds a status event from an activity snapshot.
func NewStatusEvent(activity Activity) StatusEvent {
	return StatusEvent{
		Type:       EventTypeStatus,
		CoreActive: activity.CoreActive,
		PipeActive: activity.PipeActive,
		BothActive: activity.BothActive,
	}
}

// NewOutputsEvent builds an outputs event from a merged output list.
func NewOutputsEvent(outputs []Output) OutputsEvent {
	if outputs == nil {
		outputs = []Output{}
	}
	return OutputsEvent{Type: EventTypeOutputs, Outputs: outputs}
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Activity
}

// OutputsResponse is returned by GET /api/outputs.
type OutputsResponse struct {
	Outputs []Output `json:"outputs"`
}

// OutputUpdateRequest is the body of PUT /api/outputs/{id}. Only the fields
// present in the request are applied.
type OutputUpdateRequest struct {
	Selected      *bool `json:"selected,omitempty"`
	Volume        *int  `json:"volume,omitempty"`
	Default       *bool `json:"default,omitempty"`
	DefaultVolume *int  `json:"default_volume,omitempty"`
}

// Empty reports whether the request carries no fields to apply.
func (r OutputUpdateRequest) Empty() bool {
	return r.Selected == nil && r.Volume == nil && r.Default == nil && r.DefaultVolume == nil
}

// DefaultsResponse is returned by GET /api/defaults as output id -> volume.
type DefaultsResponse struct {
	Defaults map[string]int `json:"defaults"`
}

// DefaultsUpdateRequest replaces the persisted default set wholesale.
type DefaultsUpdateRequest struct {
	Defaults map[string]int `json:"defaults"`
}

// AckResponse acknowledges a write operation.
type AckResponse struct {
	OK bool `json:"ok"`
}

// StopResponse is returned by POST /api/stop with the post-stop activity.
type StopResponse struct {
	OK bool `json:"ok"`
	Activity
}

// ErrorResponse is the uniform error payload for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
