// Package metrics publishes operational counters to CloudWatch. Failures to
// publish are logged and never surface to callers.
package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"expenseterminal/internal/types"
)

// Result values for the Result dimension.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultIgnored = "ignored"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder is the set of metrics the API and worker emit.
type Recorder interface {
	RecordRequest(ctx context.Context, method, endpoint string, status int, latency time.Duration)
	RecordImport(ctx context.Context, plan types.PlanID, eligible, ineligible int)
	RecordCategorization(ctx context.Context, categorized, failed int)
	RecordWebhook(ctx context.Context, eventType, result string)
}

var (
	_ Recorder = (*CloudWatchRecorder)(nil)
	_ Recorder = NoopRecorder{}
)

// CloudWatchRecorder emits each recording as one PutMetricData call.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder publishing under
// types.MetricNamespace.
func NewCloudWatchRecorder(client CloudWatchClient, logger *slog.Logger) *CloudWatchRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: types.MetricNamespace,
		logger:    logger,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func count(name string, v int, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(v)),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

// RecordRequest emits APIRequestCount and APILatency for one HTTP request.
// endpoint should be the route pattern, not the raw path.
func (r *CloudWatchRecorder) RecordRequest(ctx context.Context, method, endpoint string, status int, latency time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimEndpoint, endpoint),
		dim(types.DimMethod, method),
		dim(types.DimStatus, strconv.Itoa(status)),
	}
	r.put(ctx, "request",
		count(types.MetricAPIRequestCount, 1, dims...),
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(latency.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims[:2],
		},
	)
}

// RecordImport emits row counts for one import batch split by eligibility.
func (r *CloudWatchRecorder) RecordImport(ctx context.Context, plan types.PlanID, eligible, ineligible int) {
	p := dim(types.DimPlan, string(plan))
	r.put(ctx, "import",
		count(types.MetricImportRows, eligible+ineligible, p),
		count(types.MetricAIEligibleRows, eligible, p),
		count(types.MetricAIIneligibleRows, ineligible, p),
	)
}

// RecordCategorization emits worker outcomes for one job.
func (r *CloudWatchRecorder) RecordCategorization(ctx context.Context, categorized, failed int) {
	r.put(ctx, "categorization",
		count(types.MetricCategorizedRows, categorized),
		count(types.MetricCategorizeFailure, failed),
	)
}

// RecordWebhook counts one processed Stripe event.
func (r *CloudWatchRecorder) RecordWebhook(ctx context.Context, eventType, result string) {
	r.put(ctx, "webhook",
		count(types.MetricWebhookEvent, 1, dim(types.DimEventType, eventType), dim(types.DimResult, result)),
	)
}

func (r *CloudWatchRecorder) put(ctx context.Context, what string, data ...cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	}
	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.ErrorContext(ctx, "failed to record metric",
			"metric", what,
			"error", err,
		)
	}
}

// NoopRecorder discards everything. Used locally and in tests.
type NoopRecorder struct{}

func (NoopRecorder) RecordRequest(context.Context, string, string, int, time.Duration) {}
func (NoopRecorder) RecordImport(context.Context, types.PlanID, int, int)               {}
func (NoopRecorder) RecordCategorization(context.Context, int, int)                    {}
func (NoopRecorder) RecordWebhook(context.Context, string, string)                     {}
