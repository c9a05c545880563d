package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder counts completion and reconciliation outcomes. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	completions     *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	submissions     *prometheus.CounterVec
}

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_completions_total",
				Help: "Quiz completions by branch (authenticated, guest_gated, guest_open, failed)",
			},
			[]string{"branch", "quiz_type"},
		),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_reconciliations_total",
				Help: "Guest result reconciliations by final state",
			},
			[]string{"outcome"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_result_submissions_total",
				Help: "Remote result submissions by status",
			},
			[]string{"status"},
		),
	}
	if reg != nil {
		reg.MustRegister(r.completions, r.reconciliations, r.submissions)
	}
	return r
}

func (r *Recorder) Completion(branch, quizType string) {
	if r == nil {
		return
	}
	r.completions.WithLabelValues(branch, quizType).Inc()
}

func (r *Recorder) Reconciliation(outcome string) {
	if r == nil {
		return
	}
	r.reconciliations.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Submission(ok bool) {
	if r == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	r.submissions.WithLabelValues(status).Inc()
}
