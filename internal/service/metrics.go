package service

import (
	"github.com/prometheus/client_golang/prometheus"

	"user-directory/internal/domain"
)

var opsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{Name: "user_directory_ops_total", Help: "Count of user directory operations by result"},
	[]string{"op", "result"},
)

func init() { prometheus.MustRegister(opsTotal) }

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k := domain.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
