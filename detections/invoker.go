package detections

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/Tutortoise/fpga-inference-service/models"
)

// waitDelay bounds how long Run waits for output pipes after the process is
// killed, in case a grandchild still holds them open.
const waitDelay = 2 * time.Second

// ErrTimeout is returned when the executable outlives its deadline and is killed.
var ErrTimeout = errors.New("inference timed out")

// Invoker runs the accelerator's inference executable.
type Invoker struct{}

func NewInvoker() *Invoker {
	return &Invoker{}
}

// Run launches executable with inputName as its only argument inside workDir and
// waits for it to exit. A non-zero exit status is reported in the returned
// report, not as an error. Errors are reserved for launch failures and ctx expiry.
func (i *Invoker) Run(ctx context.Context, workDir, executable, inputName string) (models.InferenceReport, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, executable, inputName)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return models.InferenceReport{}, ErrTimeout
		}
		return models.InferenceReport{}, fmt.Errorf("inference cancelled: %w", ctxErr)
	}

	report := models.InferenceReport{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return models.InferenceReport{}, fmt.Errorf("launch %s: %w", executable, err)
		}
		report.ExitCode = exitErr.ExitCode()
	}

	return report, nil
}
