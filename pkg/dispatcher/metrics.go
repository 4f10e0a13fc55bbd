package dispatcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Record stages counted by records_total.
const (
	stageFetched   = "fetched"
	stageDuplicate = "duplicate"
	stageDropped   = "dropped"
	stageSent      = "sent"
	stageDelivered = "delivered"
	stageRecorded  = "recorded"
)

// Metrics holds the Prometheus collectors for dispatch cycles.
type Metrics struct {
	cycles   *prometheus.CounterVec   // by topic and status
	records  *prometheus.CounterVec   // by topic and stage
	duration *prometheus.HistogramVec // by topic
}

// NewMetrics creates the dispatcher collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backpack",
			Subsystem: "dispatcher",
			Name:      "cycles_total",
			Help:      "Total number of dispatch cycles by outcome status",
		}, []string{"topic", "status"}),

		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backpack",
			Subsystem: "dispatcher",
			Name:      "records_total",
			Help:      "Records seen at each stage of a dispatch cycle",
		}, []string{"topic", "stage"}), // stage: fetched, duplicate, dropped, sent, delivered, recorded

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "backpack",
			Subsystem: "dispatcher",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a dispatch cycle in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"topic"}),
	}

	for _, c := range []prometheus.Collector{m.cycles, m.records, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeCycle(topic string, o Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(topic, o.Status.String()).Inc()
	m.duration.WithLabelValues(topic).Observe(elapsed.Seconds())
}

func (m *Metrics) addRecords(topic, stage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.records.WithLabelValues(topic, stage).Add(float64(n))
}
