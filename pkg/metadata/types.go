package metadata

import "time"

// TenantRecord is what the daemon knows about one volume between cycles.
type TenantRecord struct {
	VolumeID string `json:"volume"`
	// InternalID is the panel's numeric server id, 0 while unresolved.
	InternalID  int64   `json:"internal_id"`
	Identifier  string  `json:"identifier,omitempty"`
	DisplayName string  `json:"name,omitempty"`
	QuotaGB     float64 `json:"quota_gb"`

	LastMeasuredGB    float64   `json:"last_measured_gb"`
	CumulativeDriftGB float64   `json:"cumulative_drift_gb"`
	LastMeasuredAt    time.Time `json:"last_measured_at,omitzero"`
}

func (r TenantRecord) Resolved() bool { return r.InternalID != 0 }

// HasBaseline reports whether the volume has been measured at least once.
func (r TenantRecord) HasBaseline() bool { return !r.LastMeasuredAt.IsZero() }
