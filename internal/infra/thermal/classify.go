package thermal

import "github.com/tutu-network/tutu/internal/domain"

// Classify is a pure function of (temperature, warning, critical). Given the
// same triple it always returns the same status — no clock, no I/O.
func Classify(reading domain.ThermalReading, defaultWarningC, defaultCriticalC float64) domain.ThermalStatus {
	warning := defaultWarningC
	critical := defaultCriticalC
	if reading.WarningC != nil {
		warning = *reading.WarningC
	}
	if reading.CriticalC != nil {
		critical = *reading.CriticalC
	}

	status := domain.ThermalStatus{
		TemperatureC: reading.TemperatureC,
		WarningC:     warning,
		CriticalC:    critical,
		Source:       reading.Source,
		Detail:       reading.Detail,
	}

	if reading.TemperatureC == nil {
		status.State = domain.ThermalUnknown
		return status
	}

	t := *reading.TemperatureC
	switch {
	case t >= critical:
		status.State = domain.ThermalEmergency
	case t >= warning:
		status.State = domain.ThermalThrottled
	default:
		status.State = domain.ThermalNormal
	}
	return status
}

// Recommend derives the Thermal Guard's control signal from a classified
// status and resource pressure label, per the Recommendation table.
func Recommend(status domain.ThermalStatus, pressure domain.ResourcePressure, defaultBatchSize int) domain.Recommendation {
	switch status.State {
	case domain.ThermalThrottled:
		return domain.Recommendation{
			CanLoadLarge:         false,
			BatchSizeHint:        2,
			PostInferenceDelayMs: 1000,
			Reason:               "thermal state THROTTLED",
		}
	case domain.ThermalEmergency:
		return domain.Recommendation{
			CanLoadLarge:         false,
			BatchSizeHint:        1,
			PostInferenceDelayMs: 2000,
			Reason:               "thermal state EMERGENCY",
		}
	case domain.ThermalNormal:
		delay := 0
		reason := "thermal state NORMAL"
		switch pressure {
		case domain.PressureCriticalR:
			delay = 500
			reason = "thermal state NORMAL, resource pressure CRITICAL"
		case domain.PressureHigh:
			delay = 200
			reason = "thermal state NORMAL, resource pressure HIGH"
		}
		return domain.Recommendation{
			CanLoadLarge:         true,
			BatchSizeHint:        defaultBatchSize,
			PostInferenceDelayMs: delay,
			Reason:               reason,
		}
	default: // UNKNOWN
		return domain.Recommendation{
			CanLoadLarge:         true,
			BatchSizeHint:        defaultBatchSize,
			PostInferenceDelayMs: 0,
			Reason:               "thermal state UNKNOWN",
		}
	}
}
