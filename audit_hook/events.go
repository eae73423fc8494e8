package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued     = "job.enqueued"
	ActionJobStarted      = "job.started"
	ActionJobCompleted    = "job.completed"
	ActionJobRetrying     = "job.retrying"
	ActionJobDeadLettered = "job.deadlettered"
	ActionRetryPromoted   = "retry.promoted"
	ActionWorkerShutdown  = "worker.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryJob    = "punt.job"
	CategoryWorker = "punt.worker"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceDelivery = "delivery"
	ResourceMessage  = "message"
	ResourceWorker   = "worker"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobDeadLettered,
		ActionRetryPromoted,
		ActionWorkerShutdown,
	}
}
