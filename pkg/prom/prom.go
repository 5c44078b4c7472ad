package prom

import (
	"sync"

	xhttp "github.com/brightsend/campaign-dispatcher/pkg/http"
	"github.com/brightsend/campaign-dispatcher/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemCampaigns = "campaign"
	SystemEmails    = "email"
)

const (
	MetricCampaignProcessedTotal   = "processed_total"
	MetricBatchSendDurationSeconds = "batch_send_duration_seconds"
	MetricEmailsSentTotal          = "sent_total"
	MetricEmailsFailedTotal        = "failed_total"
)

var registerMu = &sync.Mutex{}
var namespace = "none"

// MetricSystemEnabled gates every recording helper; when Create was
// never called (tests, tools) the helpers are no-ops.
var MetricSystemEnabled = false

var counters = make(map[string]prometheus.Counter)
var counterVecs = make(map[string]*prometheus.CounterVec)
var histograms = make(map[string]prometheus.Histogram)

var defaultLabels prometheus.Labels

// Create registers the fixed metric set of this service and turns
// recording on.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = prometheus.Labels{
		"env":      env,
		"instance": host,
	}
	namespace = nameSpace
	MetricSystemEnabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounterVec(SystemCampaigns, MetricCampaignProcessedTotal, "Campaign jobs processed, labelled by terminal status.", []string{"status"}))
	hasError(createHistogram(SystemCampaigns, MetricBatchSendDurationSeconds, "Wall time spent delivering one batch."))
	hasError(createCounter(SystemEmails, MetricEmailsSentTotal, "Emails accepted by the SMTP transport."))
	hasError(createCounter(SystemEmails, MetricEmailsFailedTotal, "Emails that failed to render or send."))

	return err
}

func ListenAndServer(port string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func createCounter(subsystem, name, help string) error {
	registerMu.Lock()
	defer registerMu.Unlock()
	counters[subsystem+name] = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: defaultLabels,
	})
	return prometheus.Register(counters[subsystem+name])
}

func createCounterVec(subsystem, name, help string, labels []string) error {
	registerMu.Lock()
	defer registerMu.Unlock()
	counterVecs[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(counterVecs[subsystem+name])
}

func createHistogram(subsystem, name, help string) error {
	registerMu.Lock()
	defer registerMu.Unlock()
	histograms[subsystem+name] = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	})
	return prometheus.Register(histograms[subsystem+name])
}

func AddCounter(subsystem, name string, number float64) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := counters[subsystem+name]; ok {
		v.Add(number)
		return
	}
	logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := counterVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Inc()
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func AddHistogram(subsystem, name string, number float64) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := histograms[subsystem+name]; ok {
		v.Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram not found", "subsystem", subsystem, "name", name)
}

func IncCampaignProcessed(status string) {
	IncCounterVec(SystemCampaigns, MetricCampaignProcessedTotal, status)
}

func ObserveBatchSendDuration(seconds float64) {
	AddHistogram(SystemCampaigns, MetricBatchSendDurationSeconds, seconds)
}

func AddEmailsSent(n float64) {
	AddCounter(SystemEmails, MetricEmailsSentTotal, n)
}

func AddEmailsFailed(n float64) {
	AddCounter(SystemEmails, MetricEmailsFailedTotal, n)
}
