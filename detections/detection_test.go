package detections

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/Tutortoise/fpga-inference-service/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStdout = `Loading model...
Class name: car
xmin 10 ymin 20 xmax 50 ymax 80
Class name: bus_stop
xmin 100.7 ymin 200.2 xmax 150.9 ymax 260.5
___DPU task time: 0.0123
done`

func TestExtract_Success(t *testing.T) {
	result, err := Extract(models.InferenceReport{Stdout: sampleStdout})
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 12.3, result.LatencyMs)
	require.Len(t, result.Detections, 2)

	assert.Equal(t, models.Detection{
		Label:      "Car",
		Confidence: 1.0,
		Box:        models.Box{X: 10, Y: 20, Width: 40, Height: 60},
	}, result.Detections[0])

	second := result.Detections[1]
	assert.Equal(t, "Bus_stop", second.Label)
	assert.Equal(t, models.Box{X: 100, Y: 200, Width: 50, Height: 60}, second.Box)
}

func TestExtract_PairsUpToShorterSequence(t *testing.T) {
	stdout := "Class name: car\nClass name: person\nClass name: dog\n" +
		"xmin 1 ymin 2 xmax 3 ymax 4\nxmin 5 ymin 6 xmax 7 ymax 8\n"

	result, err := Extract(models.InferenceReport{Stdout: stdout})
	require.NoError(t, err)
	require.Len(t, result.Detections, 2)
	assert.Equal(t, "Car", result.Detections[0].Label)
	assert.Equal(t, "Person", result.Detections[1].Label)

	stdout = "Class name: car\nxmin 1 ymin 2 xmax 3 ymax 4\nxmin 5 ymin 6 xmax 7 ymax 8\n"
	result, err = Extract(models.InferenceReport{Stdout: stdout})
	require.NoError(t, err)
	assert.Len(t, result.Detections, 1)
}

func TestExtract_EmptyOutput(t *testing.T) {
	result, err := Extract(models.InferenceReport{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, 0.0, result.LatencyMs)
	assert.NotNil(t, result.Detections)
	assert.Empty(t, result.Detections)
}

func TestExtract_InvertedBoxIsNotClamped(t *testing.T) {
	stdout := "Class name: cat\nxmin 50 ymin 80 xmax 10 ymax 20\n"
	result, err := Extract(models.InferenceReport{Stdout: stdout})
	require.NoError(t, err)
	require.Len(t, result.Detections, 1)
	assert.Equal(t, models.Box{X: 50, Y: 80, Width: -40, Height: -60}, result.Detections[0].Box)
}

func TestExtract_IgnoresMalformedRecords(t *testing.T) {
	stdout := "Class name: ???\nClass name: truck\n" +
		"xmin -1 ymin 2 xmax 3 ymax 4\n" +
		"xmin 1 ymin 2 xmax 3\n" +
		"xmin 0 ymin 0 xmax 8 ymax 9\n"
	result, err := Extract(models.InferenceReport{Stdout: stdout})
	require.NoError(t, err)
	require.Len(t, result.Detections, 1)
	assert.Equal(t, "Truck", result.Detections[0].Label)
	assert.Equal(t, models.Box{X: 0, Y: 0, Width: 8, Height: 9}, result.Detections[0].Box)
}

func TestExtract_BareDecimalPointKeepsPairing(t *testing.T) {
	stdout := "Class name: car\nxmin 10. ymin 20 xmax 50 ymax 80\n" +
		"Class name: dog\nxmin 300 ymin 5 xmax 310 ymax 15\n" +
		"Class name: cat\nxmin .5 ymin 1 xmax 4.5 ymax 3.\n"
	result, err := Extract(models.InferenceReport{Stdout: stdout})
	require.NoError(t, err)
	require.Len(t, result.Detections, 3)

	assert.Equal(t, "Car", result.Detections[0].Label)
	assert.Equal(t, models.Box{X: 10, Y: 20, Width: 40, Height: 60}, result.Detections[0].Box)
	assert.Equal(t, "Dog", result.Detections[1].Label)
	assert.Equal(t, models.Box{X: 300, Y: 5, Width: 10, Height: 10}, result.Detections[1].Box)
	assert.Equal(t, "Cat", result.Detections[2].Label)
	assert.Equal(t, models.Box{X: 0, Y: 1, Width: 4, Height: 2}, result.Detections[2].Box)
}

func TestExtract_OutOfRangeCoordinatesSaturate(t *testing.T) {
	stdout := "Class name: car\nxmin 99999999999999999999 ymin 20 xmax 50 ymax 80\n" +
		"Class name: dog\nxmin 300 ymin 5 xmax 310 ymax 15\n"
	result, err := Extract(models.InferenceReport{Stdout: stdout})
	require.NoError(t, err)
	require.Len(t, result.Detections, 2)

	assert.Equal(t, models.Box{X: math.MaxInt, Y: 20, Width: math.MinInt, Height: 60}, result.Detections[0].Box)
	assert.Equal(t, "Dog", result.Detections[1].Label)
	assert.Equal(t, models.Box{X: 300, Y: 5, Width: 10, Height: 10}, result.Detections[1].Box)
}

func TestExtract_OverflowingDigitsKeepBox(t *testing.T) {
	huge := strings.Repeat("9", 400)
	stdout := "Class name: car\nxmin " + huge + " ymin 0 xmax " + huge + " ymax 1\n" +
		"Class name: dog\nxmin 1 ymin 2 xmax 3 ymax 4\n"
	result, err := Extract(models.InferenceReport{Stdout: stdout})
	require.NoError(t, err)
	require.Len(t, result.Detections, 2)

	assert.Equal(t, models.Box{X: math.MaxInt, Y: 0, Width: 0, Height: 1}, result.Detections[0].Box)
	assert.Equal(t, models.Box{X: 1, Y: 2, Width: 2, Height: 2}, result.Detections[1].Box)
}

func TestExtract_Latency(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		want   float64
	}{
		{"seconds to ms", "___DPU task time: 0.0123", 12.3},
		{"rounded to two decimals", "___DPU task time: 0.0456789", 45.68},
		{"integer seconds", "___DPU task time: 2", 2000},
		{"trailing point", "___DPU task time: 2.", 2000},
		{"leading point", "___DPU task time: .5", 500},
		{"first marker wins", "___DPU task time: 0.001\n___DPU task time: 0.5", 1},
		{"missing marker", "Class name: car", 0},
		{"zero", "___DPU task time: 0.0", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Extract(models.InferenceReport{Stdout: tt.stdout})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.LatencyMs)
		})
	}
}

func TestExtract_IsPure(t *testing.T) {
	report := models.InferenceReport{Stdout: sampleStdout}
	first, err := Extract(report)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Extract(report)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestExtract_ExecutionFailure(t *testing.T) {
	t.Run("stderr verbatim", func(t *testing.T) {
		_, err := Extract(models.InferenceReport{
			ExitCode: 1,
			Stdout:   sampleStdout,
			Stderr:   "DPU open failed\n",
		})
		require.Error(t, err)

		var execErr *ExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, "DPU open failed\n", err.Error())
		assert.Equal(t, 1, execErr.ExitCode)
		assert.Equal(t, 2, execErr.Parsed)
	})

	t.Run("falls back to stdout", func(t *testing.T) {
		_, err := Extract(models.InferenceReport{ExitCode: 139, Stdout: "segfault near xmin"})
		require.Error(t, err)
		assert.Equal(t, "segfault near xmin", err.Error())
	})
}

func TestDisplayLabel(t *testing.T) {
	assert.Equal(t, "Car", displayLabel("car"))
	assert.Equal(t, "Bus_stop", displayLabel("bus_stop"))
	assert.Equal(t, "TrafficLight", displayLabel("trafficLight"))
	assert.Equal(t, "9lives", displayLabel("9lives"))
	assert.Equal(t, "", displayLabel(""))
}

func TestFormatDetections(t *testing.T) {
	out := FormatDetections([]models.Detection{
		{Label: "Car", Box: models.Box{X: 1, Y: 2, Width: 3, Height: 4}},
		{Label: "Dog", Box: models.Box{X: 5, Y: 6, Width: 7, Height: 8}},
	})
	assert.Equal(t, "Car[1,2,3,4] Dog[5,6,7,8]", out)
}
