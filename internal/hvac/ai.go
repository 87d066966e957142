package hvac

import (
	"github.com/bbbhvac/hvaccore/internal/config"
	"github.com/bbbhvac/hvaccore/internal/constants"
)

// computeAIValue converts a raw ADC reading into an engineering-unit
// value: 4-20mA current-loop points are scaled to their configured
// min/max span, reporting constants.FloatMin for a 0V reading (no sensor
// attached); ICTD points undo the board's x10 gain stage and convert
// Kelvin to the configured display unit.
func computeAIValue(point *config.AIPoint, raw uint16) float64 {
	voltage := float64(raw) * (constants.VRefMax / constants.ADCSteps)

	switch point.Subtype {
	case config.AISubtypeCurrentLoop:
		if voltage == 0 {
			return constants.FloatMin
		}
		currentMA := (voltage / constants.CurrentLoopOhms) * 1000
		return float64(point.Min) + (currentMA-4)*float64(point.Max-point.Min)/16

	case config.AISubtypeICTD:
		degreesC := (voltage/constants.ICTDGainDivisor)*1000 - constants.ICTDKelvinOffset
		if point.Unit == config.UnitFahrenheit {
			return degreesC*9/5 + 32
		}
		return degreesC

	default:
		return constants.FloatMin
	}
}
