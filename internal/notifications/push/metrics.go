package push

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"tubenotify/internal/types"
)

// Metric names and dimensions published per dispatch.
const (
	MetricPushDelivered    = "PushDelivered"
	MetricPushFailed       = "PushFailed"
	MetricPushTokensPruned = "PushTokensPruned"
	DimNotificationType    = "NotificationType"
)

// Metrics records the outcome of one dispatch.
type Metrics interface {
	RecordDispatch(ctx context.Context, kind types.NotificationType, result types.DispatchResult, pruned int)
}

// NoopMetrics discards everything. It is the default when CloudWatch is off.
type NoopMetrics struct{}

func (NoopMetrics) RecordDispatch(context.Context, types.NotificationType, types.DispatchResult, int) {}

// CloudWatchClient is the PutMetricData subset of the CloudWatch client.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ Metrics = (*CloudWatchMetrics)(nil)

// CloudWatchMetrics publishes the three dispatch counters in one call,
// dimensioned by notification type. Publishing errors are logged only.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) RecordDispatch(ctx context.Context, kind types.NotificationType, result types.DispatchResult, pruned int) {
	dims := []cwtypes.Dimension{{
		Name:  aws.String(DimNotificationType),
		Value: aws.String(string(kind)),
	}}
	datum := func(name string, v int) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(v)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		}
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			datum(MetricPushDelivered, result.Successful),
			datum(MetricPushFailed, result.Failed),
			datum(MetricPushTokensPruned, pruned),
		},
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to publish dispatch metrics",
			"error", err,
			"type", kind,
		)
	}
}
