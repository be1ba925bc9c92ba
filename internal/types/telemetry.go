package types

// CloudWatch metric names and dimensions.
const (
	MetricAPILatency        = "APILatency"
	MetricAPIRequestCount   = "APIRequestCount"
	MetricImportRows        = "ImportRows"
	MetricAIEligibleRows    = "AIEligibleRows"
	MetricAIIneligibleRows  = "AIIneligibleRows"
	MetricCategorizedRows   = "CategorizedRows"
	MetricCategorizeFailure = "CategorizeFailure"
	MetricWebhookEvent      = "WebhookEvent"

	DimEndpoint  = "Endpoint"
	DimMethod    = "Method"
	DimStatus    = "Status"
	DimPlan      = "Plan"
	DimEventType = "EventType"
	DimResult    = "Result"

	MetricNamespace = "ExpenseTerminal"
)
