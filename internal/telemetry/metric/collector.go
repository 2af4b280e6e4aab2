package metric

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerStatus is the scrape-time view of one worker.
type WorkerStatus struct {
	ID      int
	Clients int
	Healthy bool
}

// Source supplies the data a Collector reports. The worker manager
// implements it.
type Source interface {
	Stats() Snapshot
	WorkerStatuses() []WorkerStatus
	WaitingClients() int
}

// Collector turns a Source into Prometheus metrics at scrape time, so the
// command path never touches the Prometheus client.
type Collector struct {
	src Source

	commands       *prometheus.Desc
	commandErrors  *prometheus.Desc
	protocolErrors *prometheus.Desc
	bytesRead      *prometheus.Desc
	bytesWritten   *prometheus.Desc
	accepted       *prometheus.Desc
	closed         *prometheus.Desc
	wakeups        *prometheus.Desc
	blockTimeouts  *prometheus.Desc
	connected      *prometheus.Desc
	blocked        *prometheus.Desc
	waiting        *prometheus.Desc
	workerClients  *prometheus.Desc
	workerHealthy  *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src Source) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, nil)
	}
	return &Collector{
		src:            src,
		commands:       desc("commands_processed_total", "Commands executed."),
		commandErrors:  desc("command_errors_total", "Commands that replied with an error."),
		protocolErrors: desc("protocol_errors_total", "Connections closed for protocol errors."),
		bytesRead:      desc("net_input_bytes_total", "Bytes read from clients."),
		bytesWritten:   desc("net_output_bytes_total", "Bytes written to clients."),
		accepted:       desc("connections_accepted_total", "Connections accepted."),
		closed:         desc("connections_closed_total", "Connections closed."),
		wakeups:        desc("blocked_wakeups_total", "Blocked clients woken by a write."),
		blockTimeouts:  desc("blocked_timeouts_total", "Blocking commands that timed out."),
		connected:      desc("connected_clients", "Currently connected clients."),
		blocked:        desc("blocked_clients", "Clients blocked on a resource."),
		waiting:        desc("watcher_waiting_clients", "Entries in the watcher registry."),
		workerClients:  desc("worker_clients", "Clients owned by a worker.", "worker"),
		workerHealthy:  desc("worker_healthy", "1 when the worker heartbeats on time.", "worker"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.commands, c.commandErrors, c.protocolErrors, c.bytesRead, c.bytesWritten,
		c.accepted, c.closed, c.wakeups, c.blockTimeouts, c.connected, c.blocked,
		c.waiting, c.workerClients, c.workerHealthy,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.commands, s.CommandsProcessed)
	counter(c.commandErrors, s.CommandErrors)
	counter(c.protocolErrors, s.ProtocolErrors)
	counter(c.bytesRead, s.BytesRead)
	counter(c.bytesWritten, s.BytesWritten)
	counter(c.accepted, s.ConnectionsAccepted)
	counter(c.closed, s.ConnectionsClosed)
	counter(c.wakeups, s.Wakeups)
	counter(c.blockTimeouts, s.BlockTimeouts)
	gauge(c.connected, float64(s.ActiveConnections))
	gauge(c.blocked, float64(s.BlockedClients))
	gauge(c.waiting, float64(c.src.WaitingClients()))

	for _, w := range c.src.WorkerStatuses() {
		id := strconv.Itoa(w.ID)
		gauge(c.workerClients, float64(w.Clients), id)
		healthy := 0.0
		if w.Healthy {
			healthy = 1
		}
		gauge(c.workerHealthy, healthy, id)
	}
}
