package observability

// Metric name prefixes
const (
	MetricPrefix = "rewarder"
)

// Metric names
const (
	// Ledger metrics
	LedgerTransactionsTotal = MetricPrefix + ".ledger.transactions_total"
	LedgerAmountTotal       = MetricPrefix + ".ledger.amount_total"
	LedgerRejectionsTotal   = MetricPrefix + ".ledger.rejections_total"

	// Settlement metrics
	SettlementsTotal = MetricPrefix + ".settlements.total"

	// Dispatcher metrics
	DispatchItemsTotal   = MetricPrefix + ".dispatcher.items_total"
	DispatchPassDuration = MetricPrefix + ".dispatcher.pass_duration"
	DispatchClaimedTotal = MetricPrefix + ".dispatcher.claimed_total"

	// NATS metrics
	NATSMessagesPublishedTotal = MetricPrefix + ".nats.messages_published_total"

	// HTTP metrics
	HTTPRequestsTotal   = MetricPrefix + ".http.requests_total"
	HTTPRequestDuration = MetricPrefix + ".http.request_duration"
)

// Label keys
const (
	LabelType      = "type"
	LabelEventType = "event_type"
	LabelLedger    = "ledger"
	LabelReason    = "reason"
	LabelOutcome   = "outcome"
	LabelKind      = "kind"
	LabelRoute     = "route"
	LabelStatus    = "status"
)

// Dispatch outcomes
const (
	DispatchOutcomeSent   = "sent"
	DispatchOutcomeRetry  = "retry"
	DispatchOutcomeFailed = "failed"
)
