package weights

// AdjustNetworkWeights redistributes base per-token weights by organic usage,
// holding every token at or above a minimum threshold share. Percentages sum
// to at most 100 after rescaling.
func AdjustNetworkWeights(baseWeights map[string]float64, organicUsage map[string]int, minThresholdRatio int) map[string]float64 {
	if minThresholdRatio <= 0 {
		minThresholdRatio = 5
	}

	totalBase := 0.0
	for _, w := range baseWeights {
		totalBase += w
	}
	if totalBase == 0 {
		return map[string]float64{}
	}

	normalized := make(map[string]float64, len(baseWeights))
	for token, w := range baseWeights {
		normalized[token] = (w / totalBase) * 100
	}

	minThreshold := 100.0 / float64(minThresholdRatio)
	totalUsage := 0
	for _, n := range organicUsage {
		totalUsage += n
	}

	if totalUsage == 0 {
		return normalized
	}

	adjusted := make(map[string]float64, len(normalized))
	for token, base := range normalized {
		organicRatio := float64(organicUsage[token]) / float64(totalUsage)
		weight := base * organicRatio
		if weight < minThreshold {
			weight = minThreshold
		}
		adjusted[token] = weight
	}

	totalAdjusted := 0.0
	for _, w := range adjusted {
		totalAdjusted += w
	}

	if totalAdjusted > 100 {
		numTokens := float64(len(baseWeights))
		aboveMin := totalAdjusted - minThreshold*numTokens
		if aboveMin > 0 {
			scale := (100 - minThreshold*numTokens) / aboveMin
			for token, w := range adjusted {
				if w > minThreshold {
					adjusted[token] = minThreshold + (w-minThreshold)*scale
				}
			}
		} else {
			for token := range adjusted {
				adjusted[token] = minThreshold
			}
		}
	}

	return adjusted
}
