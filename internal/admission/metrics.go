package admission

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var admissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rollcall_admissions_total",
	Help: "Admission decisions partitioned by outcome.",
}, []string{"outcome"})

func countOutcome(err error) {
	outcome := "admitted"
	if err != nil {
		var aerr *Error
		if errors.As(err, &aerr) {
			outcome = string(aerr.Kind)
		} else {
			outcome = string(KindCommitFailed)
		}
	}
	admissions.WithLabelValues(outcome).Inc()
}
