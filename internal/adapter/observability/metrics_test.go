package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPMetricsMiddleware_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) }))
	mw.ServeHTTP(rec, r)
	if rec.Result().StatusCode != 204 {
		t.Fatalf("want 204")
	}
}

func TestJobMetricsHelpers(t *testing.T) {
	InitMetrics()
	EnqueueJob("preprocess")
	StartProcessingJob("preprocess")
	CompleteJob("preprocess")
	FailJob("preprocess")
	RecordJobFailureByCode("preprocess", "")
	RecordJobFailureByCode("preprocess", "UPSTREAM_TIMEOUT")
}

func TestInterviewMetricsHelpers(_ *testing.T) {
	// Out-of-range scores are dropped; empty actions skip the route counter.
	ObserveAnswerScore(85, "next_difficulty")
	ObserveAnswerScore(-1, "")
	ObserveAnswerScore(101, "normal_flow")
	ObserveChunkWait(1200*time.Millisecond, false)
	ObserveChunkWait(20*time.Second, true)
	QuestionsGeneratedTotal.WithLabelValues("technical").Add(12)
	ChunksPreprocessedTotal.Inc()
}
