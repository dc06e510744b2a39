package orchestrator

import (
	"math/rand"
	"sync"

	"github.com/nholik/service-sentinel/internal/registry"
)

// Balancer picks one instance for a logical service. The inflight slice
// carries the current in-flight call count per instance, aligned by index.
type Balancer interface {
	Pick(service string, instances []registry.ServiceDescriptor, inflight []int) int
}

// RoundRobin cycles through instances per service name.
type RoundRobin struct {
	mu      sync.Mutex
	cursors map[string]int
}

// NewRoundRobin constructs a RoundRobin balancer.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{cursors: make(map[string]int)}
}

// Pick implements Balancer.
func (b *RoundRobin) Pick(service string, instances []registry.ServiceDescriptor, _ []int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.cursors[service] % len(instances)
	b.cursors[service] = (idx + 1) % len(instances)
	return idx
}

// WeightedRandom picks instances with probability proportional to
// 1000/timeoutMs, so faster instances receive proportionally more traffic.
// The random source is injectable for deterministic tests.
type WeightedRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewWeightedRandom constructs a WeightedRandom balancer. A nil source
// falls back to a time-seeded one.
func NewWeightedRandom(src rand.Source) *WeightedRandom {
	if src == nil {
		src = rand.NewSource(rand.Int63())
	}
	return &WeightedRandom{rng: rand.New(src)}
}

// Pick implements Balancer.
func (b *WeightedRandom) Pick(_ string, instances []registry.ServiceDescriptor, _ []int) int {
	weights := make([]float64, len(instances))
	total := 0.0
	for i, instance := range instances {
		w := instanceWeight(instance)
		weights[i] = w
		total += w
	}

	b.mu.Lock()
	point := b.rng.Float64() * total
	b.mu.Unlock()

	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if point < cumulative {
			return i
		}
	}
	return len(instances) - 1
}

func instanceWeight(instance registry.ServiceDescriptor) float64 {
	ms := instance.Timeout.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return 1000.0 / float64(ms)
}

// LeastConnections picks the instance with the fewest in-flight calls,
// ties broken by registration order.
type LeastConnections struct{}

// NewLeastConnections constructs a LeastConnections balancer.
func NewLeastConnections() *LeastConnections {
	return &LeastConnections{}
}

// Pick implements Balancer.
func (b *LeastConnections) Pick(_ string, instances []registry.ServiceDescriptor, inflight []int) int {
	best := 0
	for i := 1; i < len(instances); i++ {
		if i < len(inflight) && best < len(inflight) && inflight[i] < inflight[best] {
			best = i
		}
	}
	return best
}
