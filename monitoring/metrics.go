package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeHistogram MetricType = "histogram"
)

// 预测结果
const (
	OutcomeOK             = "ok"
	OutcomeUnknownFeature = "unknown_feature"
	OutcomeInferenceError = "inference_error"
	OutcomeInvalidPayload = "invalid_payload"
	OutcomeInternalError  = "internal_error"
)

// maxSamples 每个直方图保留的最近样本数
const maxSamples = 1000

// Metric 指标
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricsCollector 指标收集器
type MetricsCollector struct {
	counters    map[string]float64
	samples     map[string][]float64
	metricsLock sync.RWMutex
	otel        *otelInstruments

	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:  make(map[string]float64),
		samples:   make(map[string][]float64),
		startTime: time.Now(),
	}
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	mc.counters[metricKey(name, labels)] += value
}

// RecordHistogram 记录直方图样本
func (mc *MetricsCollector) RecordHistogram(name string, value float64) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	samples := append(mc.samples[name], value)
	// 限制历史大小（保留最近 maxSamples 个）
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	mc.samples[name] = samples
}

// ObservePrediction 记录一次 /predict 请求的结果和耗时
func (mc *MetricsCollector) ObservePrediction(outcome string, duration time.Duration) {
	ms := float64(duration) / float64(time.Millisecond)
	mc.IncrCounter("predict_requests_total", 1, map[string]string{"outcome": outcome})
	mc.RecordHistogram("predict_duration_ms", ms)

	mc.metricsLock.RLock()
	instruments := mc.otel
	mc.metricsLock.RUnlock()
	if instruments != nil {
		instruments.observe(outcome, ms)
	}
}

// Counter 返回计数器当前值
func (mc *MetricsCollector) Counter(name string, labels map[string]string) float64 {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()

	return mc.counters[metricKey(name, labels)]
}

// GetMetricSummary 获取直方图摘要
func (mc *MetricsCollector) GetMetricSummary(name string) (map[string]interface{}, error) {
	mc.metricsLock.RLock()
	samples, ok := mc.samples[name]
	samples = append([]float64(nil), samples...)
	mc.metricsLock.RUnlock()

	if !ok {
		return nil, fmt.Errorf("metric %s not found", name)
	}
	if len(samples) == 0 {
		return map[string]interface{}{"count": 0}, nil
	}

	sort.Float64s(samples)
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	return map[string]interface{}{
		"name":    name,
		"count":   len(samples),
		"min":     samples[0],
		"max":     samples[len(samples)-1],
		"average": sum / float64(len(samples)),
		"p50":     percentile(samples, 0.50),
		"p95":     percentile(samples, 0.95),
		"p99":     percentile(samples, 0.99),
	}, nil
}

// Snapshot 导出所有计数器、直方图摘要和系统统计
func (mc *MetricsCollector) Snapshot() map[string]interface{} {
	mc.metricsLock.RLock()
	counters := make([]Metric, 0, len(mc.counters))
	now := time.Now()
	for key, value := range mc.counters {
		name, labels := splitMetricKey(key)
		counters = append(counters, Metric{Name: name, Type: MetricTypeCounter, Value: value, Labels: labels, Timestamp: now})
	}
	names := make([]string, 0, len(mc.samples))
	for name := range mc.samples {
		names = append(names, name)
	}
	mc.metricsLock.RUnlock()

	sort.Slice(counters, func(i, j int) bool {
		return metricKey(counters[i].Name, counters[i].Labels) < metricKey(counters[j].Name, counters[j].Labels)
	})
	sort.Strings(names)
	histograms := make(map[string]interface{}, len(names))
	for _, name := range names {
		if summary, err := mc.GetMetricSummary(name); err == nil {
			histograms[name] = summary
		}
	}

	return map[string]interface{}{
		"counters":   counters,
		"histograms": histograms,
		"system":     mc.GetSystemStats(),
	}
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}

// GetSystemStats 获取系统统计
func (mc *MetricsCollector) GetSystemStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime":     mc.GetUptime().String(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc":      m.Alloc,
			"heap_alloc": m.HeapAlloc,
			"heap_sys":   m.HeapSys,
			"gc_count":   m.NumGC,
		},
		"num_cpu": runtime.NumCPU(),
	}
}

func percentile(sorted []float64, q float64) float64 {
	idx := int(q*float64(len(sorted)-1) + 0.5)
	return sorted[idx]
}

// metricKey 将标签按键排序后拼接，保证同一组标签得到同一个键
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := name
	for _, k := range keys {
		key += "|" + k + "=" + labels[k]
	}
	return key
}

func splitMetricKey(key string) (string, map[string]string) {
	parts := strings.Split(key, "|")
	var labels map[string]string
	for _, part := range parts[1:] {
		if k, v, ok := strings.Cut(part, "="); ok {
			if labels == nil {
				labels = make(map[string]string)
			}
			labels[k] = v
		}
	}
	return parts[0], labels
}
