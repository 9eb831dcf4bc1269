package observability

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/abschwenker/wps/internal/types"
)

// CloudWatchClient is the PutMetricData subset of the CloudWatch SDK client.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// PutMetricData accepts at most 1000 datums per call.
const cloudWatchMaxDatums = 1000

// CloudWatchPublisher reports the outcome of one poll to CloudWatch, so
// Lambda runs can alarm on failed units without a Pushgateway.
//
// Metrics emitted:
//   - Units: Dims {Model, State}, count per terminal state
//   - PollDuration: no dims, milliseconds
type CloudWatchPublisher struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

func NewCloudWatchPublisher(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchPublisher{client: client, namespace: namespace, logger: logger}
}

// PublishPoll emits one datum per (model, state) pair with a non-zero count.
// Failures are logged, never returned: metrics must not fail a poll.
func (p *CloudWatchPublisher) PublishPoll(ctx context.Context, units map[types.ModelAbbrev]map[types.UnitState]int, elapsed time.Duration) {
	now := time.Now()
	data := []cwtypes.MetricDatum{{
		MetricName: aws.String("PollDuration"),
		Timestamp:  aws.Time(now),
		Value:      aws.Float64(float64(elapsed.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	}}

	models := make([]string, 0, len(units))
	for m := range units {
		models = append(models, string(m))
	}
	sort.Strings(models)
	for _, model := range models {
		states := units[types.ModelAbbrev(model)]
		names := make([]string, 0, len(states))
		for s := range states {
			names = append(names, string(s))
		}
		sort.Strings(names)
		for _, state := range names {
			n := states[types.UnitState(state)]
			if n == 0 {
				continue
			}
			data = append(data, cwtypes.MetricDatum{
				MetricName: aws.String("Units"),
				Timestamp:  aws.Time(now),
				Value:      aws.Float64(float64(n)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String("Model"), Value: aws.String(model)},
					{Name: aws.String("State"), Value: aws.String(state)},
				},
			})
		}
	}

	for start := 0; start < len(data); start += cloudWatchMaxDatums {
		end := min(start+cloudWatchMaxDatums, len(data))
		_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to publish poll metrics",
				"namespace", p.namespace,
				"error", err,
			)
			return
		}
	}
}
