package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder exports scan and issuance counters. It satisfies both
// attendance.Observer and issuance.Observer.
type Recorder struct {
	scans      *prometheus.CounterVec
	issued     *prometheus.CounterVec
	issueFails *prometheus.CounterVec
	rounds     *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "scans_total",
			Help:      "Decoded payloads processed, by batch and result (accepted, failed or rejection reason).",
		}, []string{"batch", "result"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "tokens_issued_total",
			Help:      "Tokens issued and stored.",
		}, []string{"batch"}),
		issueFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "token_issue_failures_total",
			Help:      "Students whose token could not be issued in a round.",
		}, []string{"batch"}),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "issuance_rounds_total",
			Help:      "Completed issuance rounds.",
		}, []string{"batch"}),
	}
	reg.MustRegister(r.scans, r.issued, r.issueFails, r.rounds)
	return r
}

// ScanProcessed implements attendance.Observer.
func (r *Recorder) ScanProcessed(batch, result string) {
	r.scans.WithLabelValues(batch, result).Inc()
}

// TokensIssued implements issuance.Observer.
func (r *Recorder) TokensIssued(batch string, issued, failed int) {
	r.rounds.WithLabelValues(batch).Inc()
	r.issued.WithLabelValues(batch).Add(float64(issued))
	r.issueFails.WithLabelValues(batch).Add(float64(failed))
}
