package advcache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "advcache"

// metrics 单个区域的操作计数
type metrics struct {
	saves      prometheus.Counter
	removes    prometheus.Counter
	searches   prometheus.Counter
	gcRemoved  prometheus.Counter
	gcFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, area string) *metrics {
	vec := func(name, help string) *prometheus.CounterVec {
		return registerCounterVec(reg, prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}
	return &metrics{
		saves:      vec("saves_total", "Records saved.").WithLabelValues(area),
		removes:    vec("removes_total", "Records removed by callers.").WithLabelValues(area),
		searches:   vec("searches_total", "Attribute searches served.").WithLabelValues(area),
		gcRemoved:  vec("gc_removed_total", "Records removed by garbage collection.").WithLabelValues(area),
		gcFailures: vec("gc_failures_total", "Records garbage collection failed to remove.").WithLabelValues(area),
	}
}

// registerCounterVec 注册按区域打标签的计数器
//
// 多个区域共用同一组收集器，重复注册时复用已注册的实例。
func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(opts, []string{"area"})
	if reg == nil {
		return cv
	}
	if err := reg.Register(cv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		logger.Warn("注册指标失败", "metric", opts.Name, "error", err)
	}
	return cv
}
