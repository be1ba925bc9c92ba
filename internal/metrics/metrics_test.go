package metrics

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"expenseterminal/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dims(d []cwtypes.Dimension) map[string]string {
	out := make(map[string]string, len(d))
	for _, x := range d {
		out[*x.Name] = *x.Value
	}
	return out
}

func TestRecordImport(t *testing.T) {
	cw := &mockCloudWatchClient{}
	NewCloudWatchRecorder(cw, nil).RecordImport(context.Background(), types.PlanFree, 10, 5)

	if len(cw.calls) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(cw.calls))
	}
	in := cw.calls[0]
	if *in.Namespace != types.MetricNamespace {
		t.Errorf("namespace = %q", *in.Namespace)
	}

	want := map[string]float64{
		types.MetricImportRows:       15,
		types.MetricAIEligibleRows:   10,
		types.MetricAIIneligibleRows: 5,
	}
	if len(in.MetricData) != len(want) {
		t.Fatalf("expected %d datums, got %d", len(want), len(in.MetricData))
	}
	for _, d := range in.MetricData {
		if *d.Value != want[*d.MetricName] {
			t.Errorf("%s = %v, want %v", *d.MetricName, *d.Value, want[*d.MetricName])
		}
		if dims(d.Dimensions)[types.DimPlan] != "free" {
			t.Errorf("%s missing Plan dimension", *d.MetricName)
		}
	}
}

func TestRecordRequest(t *testing.T) {
	cw := &mockCloudWatchClient{}
	NewCloudWatchRecorder(cw, nil).RecordRequest(context.Background(), "GET", "/v1/usage", 200, 42*time.Millisecond)

	data := cw.calls[0].MetricData
	if len(data) != 2 {
		t.Fatalf("expected 2 datums, got %d", len(data))
	}
	if got := dims(data[0].Dimensions); got[types.DimStatus] != "200" || got[types.DimEndpoint] != "/v1/usage" {
		t.Errorf("count dimensions = %v", got)
	}
	if data[1].Unit != cwtypes.StandardUnitMilliseconds || *data[1].Value != 42 {
		t.Errorf("latency datum = %v %v", data[1].Unit, *data[1].Value)
	}
	if _, ok := dims(data[1].Dimensions)[types.DimStatus]; ok {
		t.Error("latency should not be split by status")
	}
}

func TestRecordWebhook(t *testing.T) {
	cw := &mockCloudWatchClient{}
	NewCloudWatchRecorder(cw, nil).RecordWebhook(context.Background(), "customer.subscription.updated", ResultSuccess)

	got := dims(cw.calls[0].MetricData[0].Dimensions)
	if got[types.DimEventType] != "customer.subscription.updated" || got[types.DimResult] != "success" {
		t.Errorf("dimensions = %v", got)
	}
}

func TestRecordCategorization(t *testing.T) {
	cw := &mockCloudWatchClient{}
	NewCloudWatchRecorder(cw, nil).RecordCategorization(context.Background(), 7, 1)

	data := cw.calls[0].MetricData
	if *data[0].MetricName != types.MetricCategorizedRows || *data[0].Value != 7 {
		t.Errorf("datum[0] = %s %v", *data[0].MetricName, *data[0].Value)
	}
	if *data[1].MetricName != types.MetricCategorizeFailure || *data[1].Value != 1 {
		t.Errorf("datum[1] = %s %v", *data[1].MetricName, *data[1].Value)
	}
}

func TestPutFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}

	NewCloudWatchRecorder(cw, logger).RecordWebhook(context.Background(), "x", ResultFailure)

	if !strings.Contains(buf.String(), "failed to record metric") || !strings.Contains(buf.String(), "throttled") {
		t.Errorf("log output = %s", buf.String())
	}
}
