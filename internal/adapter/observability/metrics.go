package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "operation"},
	)

	TTSRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tts_requests_total",
			Help: "Total number of TTS synthesis requests by status",
		},
		[]string{"status"},
	)
	TTSRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tts_request_duration_seconds",
			Help:    "TTS synthesis duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)
	JobsFailedByCodeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_by_code_total",
			Help: "Total number of job failures broken down by failure code",
		},
		[]string{"type", "code"},
	)

	// Interview outcome distributions
	QuestionsGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_questions_generated_total",
			Help: "Total number of interview questions generated by category",
		},
		[]string{"category"},
	)
	AnswerScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "interview_answer_score",
			Help:    "Distribution of graded answer scores ([0,100])",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	RouteDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_route_decisions_total",
			Help: "Total number of queue routing decisions by action",
		},
		[]string{"action"},
	)
	ChunksPreprocessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "interview_chunks_preprocessed_total",
			Help: "Total number of question chunks fully preprocessed",
		},
	)
	ChunkWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "interview_chunk_wait_duration_seconds",
			Help:    "Time spent waiting for the next chunk to be preprocessed",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)
	ChunkWaitTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "interview_chunk_wait_timeouts_total",
			Help: "Total number of chunk waits that exhausted the poll budget and degraded",
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(TTSRequestsTotal)
	prometheus.MustRegister(TTSRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsFailedByCodeTotal)
	prometheus.MustRegister(QuestionsGeneratedTotal)
	prometheus.MustRegister(AnswerScoreHistogram)
	prometheus.MustRegister(RouteDecisionsTotal)
	prometheus.MustRegister(ChunksPreprocessedTotal)
	prometheus.MustRegister(ChunkWaitDuration)
	prometheus.MustRegister(ChunkWaitTimeoutsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}

// RecordJobFailureByCode tracks failures per failure code for alerting.
func RecordJobFailureByCode(jobType, code string) {
	if code == "" {
		code = "UNKNOWN"
	}
	JobsFailedByCodeTotal.WithLabelValues(jobType, code).Inc()
}

// ObserveAnswerScore records the score and routing action from a graded answer.
func ObserveAnswerScore(score int, action string) {
	if score >= 0 && score <= 100 {
		AnswerScoreHistogram.Observe(float64(score))
	}
	if action != "" {
		RouteDecisionsTotal.WithLabelValues(action).Inc()
	}
}

// ObserveChunkWait records how long a caller blocked on chunk readiness.
func ObserveChunkWait(d time.Duration, timedOut bool) {
	ChunkWaitDuration.Observe(d.Seconds())
	if timedOut {
		ChunkWaitTimeoutsTotal.Inc()
	}
}
