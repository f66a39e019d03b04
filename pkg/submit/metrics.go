package submit

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traceomatic_submissions_total",
		Help: "Tests submitted successfully, by destination tube",
	}, []string{"tube"})
	submissionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traceomatic_submissions_rejected_total",
		Help: "Submissions rejected by validation",
	})
	submissionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "traceomatic_submissions_failed_total",
		Help: "Submissions that failed after validation (storage or queue)",
	})
)

func init() {
	prometheus.MustRegister(
		submissionsTotal, submissionsRejected, submissionsFailed,
	)
}
