package detections

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Tutortoise/fpga-inference-service/models"
)

var (
	boxPattern = regexp.MustCompile(`xmin\s+` + number + `\s+ymin\s+` + number +
		`\s+xmax\s+` + number + `\s+ymax\s+` + number)
	classPattern = regexp.MustCompile(regexp.QuoteMeta(ClassNameMarker) + `\s+([a-zA-Z0-9_]+)`)
	timePattern  = regexp.MustCompile(regexp.QuoteMeta(TaskTimeMarker) + `\s+` + number)
)

// number accepts "10", "10.", "10.5" and ".5". Every match parses as a float.
const number = `(\d+\.?\d*|\.\d+)`

// ExecutionError reports a non-zero exit of the inference executable.
// Error returns the diagnostic text verbatim.
type ExecutionError struct {
	ExitCode   int
	Diagnostic string
	// Parsed is the number of detections recovered before the exit status was
	// checked. Only used for logging.
	Parsed int
}

func (e *ExecutionError) Error() string {
	return e.Diagnostic
}

type rawBox struct {
	xmin, ymin, xmax, ymax float64
}

// Extract turns an inference report into a result. It never touches the
// process or the filesystem, so identical reports give identical results.
func Extract(report models.InferenceReport) (models.InferenceResult, error) {
	boxes := parseBoxes(report.Stdout)
	classes := parseClassNames(report.Stdout)

	n := min(len(boxes), len(classes))
	detections := make([]models.Detection, 0, n)
	for i := 0; i < n; i++ {
		b := boxes[i]
		detections = append(detections, models.Detection{
			Label:      displayLabel(classes[i]),
			Confidence: DefaultConfidence,
			Box: models.Box{
				X:      clampInt(b.xmin),
				Y:      clampInt(b.ymin),
				Width:  clampInt(b.xmax - b.xmin),
				Height: clampInt(b.ymax - b.ymin),
			},
		})
	}

	latency := parseLatencyMs(report.Stdout)

	if report.ExitCode != 0 {
		diagnostic := report.Stderr
		if diagnostic == "" {
			diagnostic = report.Stdout
		}
		return models.InferenceResult{}, &ExecutionError{
			ExitCode:   report.ExitCode,
			Diagnostic: diagnostic,
			Parsed:     len(detections),
		}
	}

	return models.InferenceResult{
		Status:     models.StatusSuccess,
		LatencyMs:  latency,
		Detections: detections,
	}, nil
}

func parseBoxes(text string) []rawBox {
	matches := boxPattern.FindAllStringSubmatch(text, -1)
	boxes := make([]rawBox, 0, len(matches))
	for _, m := range matches {
		var v [4]float64
		ok := true
		for i := range v {
			// Overlong digit runs come back as ±Inf with ErrRange and are
			// clamped later, so the box keeps its place in the pairing.
			f, err := strconv.ParseFloat(m[i+1], 64)
			if err != nil && !errors.Is(err, strconv.ErrRange) {
				ok = false
				break
			}
			v[i] = f
		}
		if !ok {
			continue
		}
		boxes = append(boxes, rawBox{xmin: v[0], ymin: v[1], xmax: v[2], ymax: v[3]})
	}
	return boxes
}

// clampInt truncates toward zero and saturates at the int range, so huge
// coordinates convert the same way on every platform. NaN becomes 0.
func clampInt(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= float64(math.MaxInt):
		return math.MaxInt
	case f <= float64(math.MinInt):
		return math.MinInt
	}
	return int(f)
}

func parseClassNames(text string) []string {
	matches := classPattern.FindAllStringSubmatch(text, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// parseLatencyMs returns the first task time in milliseconds rounded to two
// decimals, or 0 when the marker is missing.
func parseLatencyMs(text string) float64 {
	m := timePattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return math.Round(seconds*1000*100) / 100
}

// displayLabel upper-cases the first character and leaves the rest alone.
func displayLabel(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

// FormatDetections renders detections for debug logging.
func FormatDetections(dets []models.Detection) string {
	parts := make([]string, 0, len(dets))
	for _, d := range dets {
		parts = append(parts, fmt.Sprintf("%s[%d,%d,%d,%d]", d.Label, d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height))
	}
	return strings.Join(parts, " ")
}
