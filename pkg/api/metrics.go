package api

import (
	"github.com/prometheus/client_golang/prometheus"
)

var statusPolls = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "traceomatic_status_polls_total",
	Help: "Status poll requests served",
})

func init() {
	prometheus.MustRegister(statusPolls)
}
