package isolation

import (
	"sync/atomic"
	"time"
)

// Fuel costs. wazero has no instruction-level fuel meter, so fuel is
// charged at deterministic points instead: a fixed cost on call entry,
// a fixed cost per host call, and a per-64-byte cost on every transfer
// across the sandbox boundary. The budget still bounds execution:
// a call cannot enter with zero fuel and cannot perform unbounded
// host-mediated work.
const (
	callEntryCost = 64
	hostCallCost  = 16
	bytesPerUnit  = 64
)

// Usage is a point-in-time snapshot of an instance's consumption.
// All counters are non-decreasing across an instance's lifetime.
type Usage struct {
	CPUMicros     uint64 `json:"cpu_micros"`
	MemoryBytes   uint64 `json:"memory_bytes"`
	FunctionCalls uint64 `json:"function_calls"`
	FuelConsumed  uint64 `json:"fuel_consumed"`
}

// Add accumulates another snapshot into this one.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		CPUMicros:     u.CPUMicros + o.CPUMicros,
		MemoryBytes:   u.MemoryBytes + o.MemoryBytes,
		FunctionCalls: u.FunctionCalls + o.FunctionCalls,
		FuelConsumed:  u.FuelConsumed + o.FuelConsumed,
	}
}

// Meter tracks one instance's resource consumption. Counters are
// updated atomically; the fuel budget spans the instance's lifetime.
type Meter struct {
	fuelLimit uint64 // 0 = unlimited

	fuelUsed  atomic.Uint64
	cpuMicros atomic.Uint64
	memory    atomic.Uint64
	calls     atomic.Uint64
}

// NewMeter creates a meter with the given fuel budget; 0 disables the
// fuel limit.
func NewMeter(fuelLimit uint64) *Meter {
	return &Meter{fuelLimit: fuelLimit}
}

// Remaining returns the fuel left, or ^uint64(0) when unlimited.
func (m *Meter) Remaining() uint64 {
	if m.fuelLimit == 0 {
		return ^uint64(0)
	}
	used := m.fuelUsed.Load()
	if used >= m.fuelLimit {
		return 0
	}
	return m.fuelLimit - used
}

// Charge deducts units of fuel, failing with OutOfFuelError when the
// budget is exceeded. The units are recorded as consumed either way so
// the counter stays non-decreasing and auditable.
func (m *Meter) Charge(units uint64) error {
	used := m.fuelUsed.Add(units)
	if m.fuelLimit != 0 && used > m.fuelLimit {
		return &OutOfFuelError{}
	}
	return nil
}

// ChargeEntry deducts the fixed cost of entering a call.
func (m *Meter) ChargeEntry() error { return m.Charge(callEntryCost) }

// ChargeHostCall deducts the fixed cost of one host call.
func (m *Meter) ChargeHostCall() error { return m.Charge(hostCallCost) }

// ChargeBytes deducts fuel for transferring n bytes across the sandbox
// boundary.
func (m *Meter) ChargeBytes(n int) error {
	if n <= 0 {
		return nil
	}
	return m.Charge(uint64(n)/bytesPerUnit + 1)
}

// RecordCall updates the CPU and call counters after an invocation.
func (m *Meter) RecordCall(elapsed time.Duration) {
	m.cpuMicros.Add(uint64(elapsed.Microseconds()))
	m.calls.Add(1)
}

// RecordMemory records the sandbox's current linear memory size if it
// exceeds the high-water mark.
func (m *Meter) RecordMemory(bytes uint64) {
	for {
		current := m.memory.Load()
		if bytes <= current {
			return
		}
		if m.memory.CompareAndSwap(current, bytes) {
			return
		}
	}
}

// Usage returns a snapshot of the counters.
func (m *Meter) Usage() Usage {
	return Usage{
		CPUMicros:     m.cpuMicros.Load(),
		MemoryBytes:   m.memory.Load(),
		FunctionCalls: m.calls.Load(),
		FuelConsumed:  m.fuelUsed.Load(),
	}
}
