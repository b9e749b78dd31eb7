package codec

import "math"

func float32bits(f float32) uint32    { return math.Float32bits(f) }
func float32frombits(v uint32) float32 { return math.Float32frombits(v) }
func float64bits(f float64) uint64    { return math.Float64bits(f) }
func float64frombits(v uint64) float64 { return math.Float64frombits(v) }
