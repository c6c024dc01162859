// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StrategySaves counts strategy writes by operation and result.
	StrategySaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratline_strategy_saves_total",
		Help: "Strategy writes by operation and result",
	}, []string{"operation", "result"})

	// ValidationFailures counts blocking validation problems by code.
	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratline_validation_failures_total",
		Help: "Validation problems that blocked a save, by code",
	}, []string{"code"})

	// ProjectionNodes tracks the size of graph projections served.
	ProjectionNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stratline_projection_nodes",
		Help:    "Number of nodes per graph projection",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
	})

	// EditorOperations counts editor session mutations by operation.
	EditorOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stratline_editor_operations_total",
		Help: "Editor session operations by name",
	}, []string{"operation"})
)

// ObserveSave records the outcome of a strategy write.
func ObserveSave(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StrategySaves.WithLabelValues(operation, result).Inc()
}

// ObserveValidation records each code in a failed validation.
func ObserveValidation(codes []string) {
	for _, c := range codes {
		ValidationFailures.WithLabelValues(c).Inc()
	}
}
