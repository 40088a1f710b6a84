package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSnapshotWarmup sweeps every active tenant and refreshes its report
	// snapshots.
	TaskSnapshotWarmup = "analytics:snapshot_warmup"
	// TaskTenantWarmup refreshes the snapshots of a single tenant, typically
	// after a settings change invalidated them.
	TaskTenantWarmup = "analytics:tenant_warmup"
)

// SnapshotWarmupPayload selects which tenants a sweep covers.
type SnapshotWarmupPayload struct {
	Scope string `json:"scope"`
}

// TenantWarmupPayload names the tenant to refresh.
type TenantWarmupPayload struct {
	TenantID uuid.UUID `json:"tenant_id"`
}

// NewSnapshotWarmupTask constructs the periodic warmup sweep task.
func NewSnapshotWarmupTask(scope string) (*asynq.Task, error) {
	data, err := json.Marshal(SnapshotWarmupPayload{Scope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSnapshotWarmup, data, asynq.Queue(QueueDefault)), nil
}

// NewTenantWarmupTask constructs a single-tenant warmup task.
func NewTenantWarmupTask(tenantID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(TenantWarmupPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTenantWarmup, data, asynq.Queue(QueueDefault)), nil
}
