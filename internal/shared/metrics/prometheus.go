package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	encountersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encounters_created_total",
			Help: "Total number of treatment encounters created",
		},
		[]string{"indication_group"},
	)

	encountersSigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "encounters_signed_total",
			Help: "Total number of treatment encounters signed",
		},
	)

	encountersReopened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "encounters_reopened_total",
			Help: "Total number of signed encounters reopened for correction",
		},
	)

	goalsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treatment_goals_created_total",
			Help: "Total number of treatment goals created",
		},
		[]string{"category"},
	)

	goalAssessmentsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "goal_assessments_recorded_total",
			Help: "Total number of goal attainment scores recorded",
		},
	)

	eligibilityEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_evaluations_total",
			Help: "Total number of certification eligibility evaluations",
		},
		[]string{"specialty"},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)

	legacyRecordsImported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "legacy_records_imported_total",
			Help: "Total number of treatments imported from the legacy system",
		},
	)
)

// RecordEncounterCreated increments the encounter creation counter
func RecordEncounterCreated(indicationGroup string) {
	encountersCreated.WithLabelValues(indicationGroup).Inc()
}

// RecordEncounterSigned increments the sign counter
func RecordEncounterSigned() { encountersSigned.Inc() }

// RecordEncounterReopened increments the reopen counter
func RecordEncounterReopened() { encountersReopened.Inc() }

// RecordGoalCreated increments the goal creation counter
func RecordGoalCreated(category string) { goalsCreated.WithLabelValues(category).Inc() }

// RecordGoalAssessment increments the goal score counter
func RecordGoalAssessment() { goalAssessmentsRecorded.Inc() }

// RecordEligibilityEvaluation increments the evaluation counter
func RecordEligibilityEvaluation(specialty string) {
	eligibilityEvaluations.WithLabelValues(specialty).Inc()
}

// RecordAuditEntry increments the audit entry counter
func RecordAuditEntry() { auditEntriesTotal.Inc() }

// RecordLegacyImport adds imported record counts
func RecordLegacyImport(n int) { legacyRecordsImported.Add(float64(n)) }

// Middleware instruments HTTP handlers
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Handler returns the prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}
