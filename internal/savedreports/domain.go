// Package savedreports stores reusable report definitions per tenant: a
// name, a sharing mode and the request configuration to replay on demand.
package savedreports

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("savedreports: not found")
	ErrDuplicateName = errors.New("savedreports: name already taken")
	ErrForbidden     = errors.New("savedreports: forbidden")
	ErrInvalidReport = errors.New("savedreports: invalid report definition")
)

// Sharing controls who inside the tenant sees a saved report.
type Sharing string

const (
	// SharingPrivate keeps the report visible to its owner only.
	SharingPrivate Sharing = "private"
	// SharingTeam makes the report visible to every user of the tenant.
	SharingTeam Sharing = "team"
	// SharingPublic additionally surfaces the report on shared dashboards.
	SharingPublic Sharing = "public"
)

// ParseSharing validates a raw sharing mode.
func ParseSharing(raw string) (Sharing, error) {
	switch Sharing(raw) {
	case SharingPrivate, SharingTeam, SharingPublic:
		return Sharing(raw), nil
	}
	return "", fmt.Errorf("%w: sharing %q", ErrInvalidReport, raw)
}

// ReportConfig is the replayable request stored with a saved report. Zero
// fields fall back to the tenant settings when the report runs.
type ReportConfig struct {
	ReportType string            `json:"report_type" validate:"required"`
	Selector   string            `json:"selector,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
	Compare    *bool             `json:"compare,omitempty"`
}

// SavedReport is one stored report definition.
type SavedReport struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	TenantID    uuid.UUID    `json:"tenant_id" db:"tenant_id"`
	OwnerID     uuid.UUID    `json:"owner_id" db:"owner_id"`
	Name        string       `json:"name" db:"name"`
	Description string       `json:"description,omitempty" db:"description"`
	Sharing     Sharing      `json:"sharing" db:"sharing"`
	Config      ReportConfig `json:"config" db:"config"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
	LastRunAt   *time.Time   `json:"last_run_at,omitempty" db:"last_run_at"`
}

// VisibleTo reports whether user sees this report. Private reports stay
// owner-only; team and public reports are tenant-wide.
func (r SavedReport) VisibleTo(userID uuid.UUID) bool {
	return r.Sharing != SharingPrivate || r.OwnerID == userID
}

// EditableBy reports whether user may modify or delete this report.
func (r SavedReport) EditableBy(userID uuid.UUID) bool {
	return r.OwnerID == userID
}
