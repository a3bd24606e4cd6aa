package types

import (
	"time"

	"mercator-hq/vigil/pkg/detection"
)

// CreateOwnerRequest is the body of POST /v1/owners.
type CreateOwnerRequest struct {
	Key               string `json:"key"`
	MonitoringEnabled bool   `json:"monitoring_enabled"`
	StreamingURL      string `json:"streaming_url,omitempty"`
	Email             string `json:"email,omitempty"`
}

// Validate checks required fields.
func (r *CreateOwnerRequest) Validate() *APIError {
	if r.Key == "" {
		return NewInvalidRequestError(CodeMissingField, "key is required", "key")
	}
	return nil
}

// Owner converts the request to a detection.Owner.
func (r *CreateOwnerRequest) Owner() *detection.Owner {
	return &detection.Owner{
		Key:               r.Key,
		MonitoringEnabled: r.MonitoringEnabled,
		StreamingURL:      r.StreamingURL,
		Email:             r.Email,
	}
}

// CreateResultRequest is the body of POST /v1/results. A missing timestamp
// defaults to the time the request is received.
type CreateResultRequest struct {
	OwnerKey  string     `json:"owner_key"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Result    int        `json:"result"`
	ImageRef  string     `json:"image_ref,omitempty"`
	Config    string     `json:"config,omitempty"`
}

// Validate checks required fields.
func (r *CreateResultRequest) Validate() *APIError {
	if r.OwnerKey == "" {
		return NewInvalidRequestError(CodeMissingField, "owner_key is required", "owner_key")
	}
	if r.Timestamp != nil {
		if err := detection.ValidateTimestamp(*r.Timestamp); err != nil {
			return NewInvalidRequestError(CodeInvalidTimestamp, err.Error(), "timestamp")
		}
	}
	return nil
}

// Record converts the request to a detection.ResultRecord.
func (r *CreateResultRequest) Record(now time.Time) *detection.ResultRecord {
	ts := now
	if r.Timestamp != nil {
		ts = *r.Timestamp
	}
	return &detection.ResultRecord{
		OwnerKey:  r.OwnerKey,
		Timestamp: ts,
		Result:    r.Result,
		ImageRef:  r.ImageRef,
		Config:    r.Config,
	}
}
