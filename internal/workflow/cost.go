package workflow

// engineHourlyCostUSD is the managed-platform price per engine hour.
var engineHourlyCostUSD = map[string]float64{
	"e4":   0.20,
	"e8":   0.30,
	"e16":  0.40,
	"e32":  0.80,
	"e64":  1.60,
	"e128": 3.20,
}

const DefaultEstimateMinutes = 15

// HourlyRate returns the hourly cost of an engine size, 0 when unknown.
func HourlyRate(size string) float64 {
	return engineHourlyCostUSD[size]
}

// RunCost prices an engine that ran for the given number of seconds.
func RunCost(size string, seconds float64) float64 {
	return seconds / 60 / 60 * HourlyRate(size)
}

// EstimateCost prices a run of cfg expected to take minutes.
func EstimateCost(cfg AnalysisConfig, minutes float64) float64 {
	if minutes <= 0 {
		minutes = DefaultEstimateMinutes
	}
	size := cfg.EngineSize
	if size == "" {
		size = DefaultEngineSize
	}
	return minutes / 60 * HourlyRate(size)
}
