package shell

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/kanapal/kanapal/internal/util"
)

// Runner launches rule commands without blocking the dispatch loop. Exit
// status and output are only ever logged; a failing command must not
// interrupt focus-event processing.
type Runner struct {
	logger *util.Logger
}

func NewRunner(logger *util.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run starts command under `sh -c` with extra environment variables and
// returns immediately.
func (r *Runner) Run(command string, env map[string]string) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Env = mergeEnv(os.Environ(), env)
	go func() {
		out, err := cmd.CombinedOutput()
		if err != nil {
			r.logger.Warnf("command %q failed: %v: %s", command, err, bytes.TrimSpace(out))
			return
		}
		r.logger.Debugf("command %q finished", command)
	}()
}

func mergeEnv(base []string, extra map[string]string) []string {
	merged := append([]string(nil), base...)
	for key, value := range extra {
		merged = append(merged, fmt.Sprintf("%s=%s", key, value))
	}
	return merged
}
