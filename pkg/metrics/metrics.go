package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stock_reservation"

// Metrics holds every collector the services report. Not every service touches every collector.
type Metrics struct {
	Registry *prometheus.Registry

	OutboxPublished *prometheus.CounterVec
	OutboxFailed    *prometheus.CounterVec
	OutboxExhausted *prometheus.CounterVec

	MessagesConsumed *prometheus.CounterVec
	PoisonMessages   *prometheus.CounterVec
	DeadLettered     *prometheus.CounterVec
	DeadLetters      *prometheus.CounterVec

	Reservations  *prometheus.CounterVec
	OrdersCreated *prometheus.CounterVec
	StuckOrders   prometheus.Counter
	Notifications *prometheus.CounterVec
}

func New(service string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	labels := prometheus.Labels{"service": service}
	counterVec := func(name, help string, labelNames ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames)
		reg.MustRegister(c)

		return c
	}

	m := &Metrics{
		Registry: reg,

		OutboxPublished: counterVec("outbox_published_total", "Outbox rows published after broker ack.", "topic"),
		OutboxFailed:    counterVec("outbox_failed_total", "Outbox publish attempts that failed.", "topic"),
		OutboxExhausted: counterVec("outbox_exhausted_total", "Outbox rows that ran out of publish attempts.", "topic"),

		MessagesConsumed: counterVec("messages_consumed_total", "Bus messages handled, by result.", "topic", "result"),
		PoisonMessages:   counterVec("poison_messages_total", "Undecodable or invalid bus messages dropped.", "topic"),
		DeadLettered:     counterVec("dead_lettered_total", "Messages moved to a dead-letter topic.", "topic"),
		DeadLetters:      counterVec("dead_letters_observed_total", "Dead letters seen by the DLQ monitor.", "original_topic"),

		Reservations:  counterVec("reservations_total", "Reservation decisions, by result.", "result"),
		OrdersCreated: counterVec("orders_created_total", "Order intake attempts, by result.", "result"),
		Notifications: counterVec("notifications_total", "Customer notifications, by result.", "status", "result"),
	}

	m.StuckOrders = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "stuck_orders_total",
		Help:        "Orders still Pending after the reconciliation limit.",
		ConstLabels: labels,
	})
	reg.MustRegister(m.StuckOrders)

	return m
}

// RegisterOutboxBacklog exposes the number of unpublished outbox rows, read on scrape.
func (m *Metrics) RegisterOutboxBacklog(count func() float64) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "outbox_backlog",
		Help:      "Outbox rows not yet published.",
	}, count))
}

// Handler serves the registry on a fiber route.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		Registry: m.Registry,
	}))
}
