package config

// ValidateThresholds checks the threshold block in isolation; hot reload
// revalidates just this block before applying it.
func ValidateThresholds(t ThresholdConfig) error {
	if t.DuplicationRate < 0 || t.DuplicationRate >= 1 {
		return ErrInvalid("thresholds.duplicationRate must be in [0, 1)")
	}
	if t.RateDeviation <= 0 {
		return ErrInvalid("thresholds.rateDeviation must be > 0")
	}
	if t.VarianceWarn <= 0 {
		return ErrInvalid("thresholds.varianceWarn must be > 0")
	}
	if t.VarianceBreach <= t.VarianceWarn {
		return ErrInvalid("thresholds.varianceBreach must be > varianceWarn")
	}
	return nil
}

// ErrInvalid is used for parameter validation errors.
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }
