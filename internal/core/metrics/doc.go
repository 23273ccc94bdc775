// Package metrics 以 Prometheus 指标记录节点运行情况
//
// Collector 同时实现 host.Reporter 与 gossipsub.Reporter，并提供命令、
// 事件与丢弃计数。注册表可注入，默认每个 Collector 使用独立注册表，
// 同一进程中的多个节点互不冲突。
//
//	c := metrics.New(prometheus.NewRegistry())
//	http.Handle("/metrics", c.Handler())
package metrics
