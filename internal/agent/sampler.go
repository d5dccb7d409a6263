package agent

import "math/rand/v2"

// Sampler 提供 [0,1) 区间内的均匀随机数，是步骤执行的随机源。
// 实现必须支持并发调用。
type Sampler interface {
	Float64() float64
}

// SamplerFunc 将普通函数适配为 Sampler。
type SamplerFunc func() float64

// Float64 实现 Sampler 接口。
func (f SamplerFunc) Float64() float64 {
	return f()
}

// defaultSampler 返回进程级别的默认随机源。
func defaultSampler() Sampler {
	return SamplerFunc(rand.Float64)
}
