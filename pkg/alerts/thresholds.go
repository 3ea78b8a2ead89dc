package alerts

import "github.com/Buchi-dev/puretrack/internal/models"

// Thresholds holds the externally-configurable crossing boundaries for each
// channel. pH is a band (outside [min,max] crosses); turbidity/TDS are
// ceilings (above the bound crosses).
type Thresholds struct {
	PHWarnMin, PHWarnMax float64
	PHCritMin, PHCritMax float64

	TurbidityWarn, TurbidityCrit float64
	TDSWarn, TDSCrit             float64
}

// DefaultThresholds is the out-of-the-box threshold set: a pH reading of
// 5.0 registers critical against a 6.5 warning boundary.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PHWarnMin: 6.5, PHWarnMax: 8.5,
		PHCritMin: 6.0, PHCritMax: 9.0,
		TurbidityWarn: 5.0, TurbidityCrit: 10.0,
		TDSWarn: 500, TDSCrit: 1000,
	}
}

// Evaluate returns the highest severity crossed for (channel, value), or ""
// if none. Per §4.3, only the highest crossed severity is reported — a
// warning-level crossing is not separately alerted once critical is crossed.
func (t Thresholds) Evaluate(ch models.Channel, value float64) (sev models.Severity, threshold float64, ok bool) {
	switch ch {
	case models.ChannelPH:
		if value < t.PHCritMin || value > t.PHCritMax {
			return models.SeverityCritical, boundaryCrossed(value, t.PHWarnMin, t.PHWarnMax), true
		}
		if value < t.PHWarnMin || value > t.PHWarnMax {
			return models.SeverityWarning, boundaryCrossed(value, t.PHWarnMin, t.PHWarnMax), true
		}
	case models.ChannelTurbidity:
		if value > t.TurbidityCrit {
			return models.SeverityCritical, t.TurbidityCrit, true
		}
		if value > t.TurbidityWarn {
			return models.SeverityWarning, t.TurbidityWarn, true
		}
	case models.ChannelTDS:
		if value > t.TDSCrit {
			return models.SeverityCritical, t.TDSCrit, true
		}
		if value > t.TDSWarn {
			return models.SeverityWarning, t.TDSWarn, true
		}
	}
	return "", 0, false
}

func boundaryCrossed(value, min, max float64) float64 {
	if value < min {
		return min
	}
	return max
}
