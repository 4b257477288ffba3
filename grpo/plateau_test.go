package grpo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlateauStopsOnFlatHighScores(t *testing.T) {
	detector := NewPlateauDetector(5, 0.01, 0.8)
	scores := []float64{0.80, 0.805, 0.795, 0.80, 0.802}
	var status PlateauStatus
	for i, score := range scores {
		status = detector.Observe(score)
		if i < len(scores)-1 {
			require.False(t, status.Plateau, "window is not full after %d scores", i+1)
			require.False(t, status.Stop)
		}
	}
	require.True(t, status.Plateau)
	require.True(t, status.Stop)
	require.Equal(t, scores, status.Window)
}

func TestPlateauBelowMinimumDoesNotStop(t *testing.T) {
	detector := NewPlateauDetector(3, 0.01, 0.8)
	var status PlateauStatus
	for _, score := range []float64{0.5, 0.5, 0.505} {
		status = detector.Observe(score)
	}
	require.True(t, status.Plateau)
	require.False(t, status.Stop)
}

func TestPlateauWindowSlides(t *testing.T) {
	detector := NewPlateauDetector(3, 0.01, 0.5)
	for _, score := range []float64{0.1, 0.9, 0.9} {
		require.False(t, detector.Observe(score).Plateau)
	}
	status := detector.Observe(0.9)
	require.Equal(t, []float64{0.9, 0.9, 0.9}, status.Window)
	require.True(t, status.Stop)

	detector.Reset()
	require.False(t, detector.Observe(0.9).Plateau)
}

func TestPlateauSpreadAboveThreshold(t *testing.T) {
	detector := NewPlateauDetector(2, 0.01, 0)
	detector.Observe(0.80)
	status := detector.Observe(0.82)
	require.False(t, status.Plateau)
	require.False(t, status.Stop)
}
