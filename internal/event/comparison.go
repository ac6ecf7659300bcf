package event

import (
	"fmt"
	"math"
)

// Comparison is the derived performance summary of one run cycle.
// It is computed once both timings are known and never stored on its own.
type Comparison struct {
	TimeA      float64 `json:"timeA"`
	TimeB      float64 `json:"timeB"`
	Difference float64 `json:"difference"` // |timeB - timeA|
	Percentage float64 `json:"percentage"` // |timeB - timeA| / timeB * 100
	Faster     Side    `json:"faster"`
}

// Compare derives the summary from the two reported timings.
//
// The percentage is relative to side B's time, not to a symmetric baseline.
// A zero timeB yields a percentage of 0 rather than a division by zero.
func Compare(timeA, timeB float64) Comparison {
	diff := timeB - timeA

	pct := 0.0
	if timeB != 0 {
		pct = math.Abs(diff) / timeB * 100
	}

	faster := SideB
	if timeA < timeB {
		faster = SideA
	}

	return Comparison{
		TimeA:      timeA,
		TimeB:      timeB,
		Difference: math.Abs(diff),
		Percentage: pct,
		Faster:     faster,
	}
}

// Summary renders the comparison as a single line of text, e.g.
// "Vanilla JS: 1.20ms | Library: 4.80ms | Difference: 75.0% faster".
func (c Comparison) Summary() string {
	verdict := "slower"
	if c.Faster == SideA {
		verdict = "faster"
	}
	return fmt.Sprintf("Vanilla JS: %.2fms | Library: %.2fms | Difference: %.1f%% %s",
		c.TimeA, c.TimeB, c.Percentage, verdict)
}
