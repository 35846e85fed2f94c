package verdict

import "math"

// Score converts a diff count into a match percentage rounded to two
// decimals. An empty image scores 100 when nothing differs and 0 otherwise.
func Score(totalPixels, numDiffPixels int) float64 {
	if numDiffPixels < 0 {
		numDiffPixels = 0
	}
	if totalPixels <= 0 {
		if numDiffPixels == 0 {
			return 100
		}
		return 0
	}
	if numDiffPixels > totalPixels {
		numDiffPixels = totalPixels
	}
	ratio := 1 - float64(numDiffPixels)/float64(totalPixels)
	return math.Round(ratio*100*100) / 100
}
