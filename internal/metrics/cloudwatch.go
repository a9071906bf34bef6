package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sony/gobreaker/v2"

	"dispatch/internal/types"
)

// DefaultFlushInterval is how often aggregated counters are sent to CloudWatch.
const DefaultFlushInterval = 60 * time.Second

// finalFlushTimeout bounds the flush performed when Run exits.
const finalFlushTimeout = 5 * time.Second

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher implements Recorder by aggregating counts in memory
// and emitting the deltas on every flush, so the producer loop never waits
// on the network. Calls go through a circuit breaker; a rejected batch is
// folded back into the next one.
//
// Metrics emitted (namespace from config, Dims {Channel}):
//   - NotificationsReceived, DuplicatesSuppressed, EventsPublished,
//     EventsDelivered, EventsDropped: Count
//   - DecodeFailures: Count, extra Dim {Code}
//   - ActiveSubscribers: Count (gauge, last value)
type CloudWatchPublisher struct {
	client    CloudWatchClient
	breaker   *gobreaker.CircuitBreaker[*cloudwatch.PutMetricDataOutput]
	namespace string
	channel   string
	logger    *slog.Logger
	now       func() time.Time

	received   atomic.Int64
	duplicates atomic.Int64
	published  atomic.Int64
	delivered  atomic.Int64
	dropped    atomic.Int64
	active     atomic.Int64

	mu             sync.Mutex
	decodeFailures map[string]int64
}

var _ Recorder = (*CloudWatchPublisher)(nil)

// CloudWatchConfig configures a CloudWatchPublisher.
type CloudWatchConfig struct {
	Namespace string
	// Channel is the notification channel, used as the Channel dimension.
	Channel string
	Logger  *slog.Logger
}

// NewCloudWatchPublisher creates a publisher whose breaker opens after more
// than five consecutive failed PutMetricData calls.
func NewCloudWatchPublisher(client CloudWatchClient, cfg CloudWatchConfig) *CloudWatchPublisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[*cloudwatch.PutMetricDataOutput](gobreaker.Settings{
		Name:        "cloudwatch",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("metrics circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &CloudWatchPublisher{
		client:         client,
		breaker:        cb,
		namespace:      cfg.Namespace,
		channel:        cfg.Channel,
		logger:         logger,
		now:            time.Now,
		decodeFailures: make(map[string]int64),
	}
}

func (p *CloudWatchPublisher) NotificationReceived() { p.received.Add(1) }
func (p *CloudWatchPublisher) DuplicateSuppressed()  { p.duplicates.Add(1) }
func (p *CloudWatchPublisher) EventDropped()         { p.dropped.Add(1) }

func (p *CloudWatchPublisher) EventPublished(subscribers int) {
	p.published.Add(1)
	p.delivered.Add(int64(subscribers))
}

func (p *CloudWatchPublisher) SubscribersChanged(active int) {
	p.active.Store(int64(active))
}

func (p *CloudWatchPublisher) DecodeFailed(code string) {
	p.mu.Lock()
	p.decodeFailures[code]++
	p.mu.Unlock()
}

// Run flushes every interval until ctx is cancelled, then performs one last
// flush. It always returns nil.
func (p *CloudWatchPublisher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			if err := p.Flush(flushCtx); err != nil {
				p.logger.Error("final metrics flush failed", "error", err)
			}
			cancel()
			return nil
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Error("metrics flush failed", "error", err)
			}
		}
	}
}

// snapshot is one flush worth of counter deltas.
type snapshot struct {
	received, duplicates, published, delivered, dropped int64
	decodeFailures                                      map[string]int64
}

// Flush sends the counts accumulated since the previous successful flush.
func (p *CloudWatchPublisher) Flush(ctx context.Context) error {
	snap := p.take()
	input := p.buildInput(snap)

	_, err := p.breaker.Execute(func() (*cloudwatch.PutMetricDataOutput, error) {
		return p.client.PutMetricData(ctx, input)
	})
	if err != nil {
		p.restore(snap)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return types.NewAppError(types.ErrCodeUpstreamMetricsRejected, "metrics circuit breaker open", err)
		}
		return types.NewAppError(types.ErrCodeUpstreamMetricsRejected, "PutMetricData failed", err)
	}
	return nil
}

func (p *CloudWatchPublisher) take() snapshot {
	p.mu.Lock()
	failures := p.decodeFailures
	p.decodeFailures = make(map[string]int64)
	p.mu.Unlock()

	return snapshot{
		received:       p.received.Swap(0),
		duplicates:     p.duplicates.Swap(0),
		published:      p.published.Swap(0),
		delivered:      p.delivered.Swap(0),
		dropped:        p.dropped.Swap(0),
		decodeFailures: failures,
	}
}

func (p *CloudWatchPublisher) restore(s snapshot) {
	p.received.Add(s.received)
	p.duplicates.Add(s.duplicates)
	p.published.Add(s.published)
	p.delivered.Add(s.delivered)
	p.dropped.Add(s.dropped)

	p.mu.Lock()
	for code, n := range s.decodeFailures {
		p.decodeFailures[code] += n
	}
	p.mu.Unlock()
}

func (p *CloudWatchPublisher) buildInput(s snapshot) *cloudwatch.PutMetricDataInput {
	ts := aws.Time(p.now().UTC())
	channelDim := cwtypes.Dimension{
		Name:  aws.String("Channel"),
		Value: aws.String(p.channel),
	}

	count := func(name string, v int64, extra ...cwtypes.Dimension) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(v)),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  ts,
			Dimensions: append([]cwtypes.Dimension{channelDim}, extra...),
		}
	}

	data := []cwtypes.MetricDatum{
		count(MetricNotificationsReceived, s.received),
		count(MetricDuplicatesSuppressed, s.duplicates),
		count(MetricEventsPublished, s.published),
		count(MetricEventsDelivered, s.delivered),
		count(MetricEventsDropped, s.dropped),
		count(MetricActiveSubscribers, p.active.Load()),
	}
	for code, n := range s.decodeFailures {
		data = append(data, count(MetricDecodeFailures, n, cwtypes.Dimension{
			Name:  aws.String("Code"),
			Value: aws.String(code),
		}))
	}

	return &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	}
}

// String describes the publisher target for startup logs.
func (p *CloudWatchPublisher) String() string {
	return fmt.Sprintf("cloudwatch(namespace=%s, channel=%s)", p.namespace, p.channel)
}
