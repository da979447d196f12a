package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/ivlev/gifmerge/internal/system"
)

// Stats is the per-job timing collected by Run.
type Stats struct {
	BuildVersion string
	Inputs       int
	Frames       int
	Decode       time.Duration
	Composite    time.Duration
	Encode       time.Duration
	Total        time.Duration
	Memory       system.Snapshot
}

// FPS is the number of output frames produced per second of wall time.
func (s Stats) FPS() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Total.Seconds()
}

func (s Stats) Report() string {
	return fmt.Sprintf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Total Time: %.2fs\n"+
			"Decoding: %.2fs\n"+
			"Compositing: %.2fs\n"+
			"Encoding: %.2fs\n"+
			"Effective FPS: %.2f\n"+
			"Memory (RSS): %s\n"+
			"----------------------------\n",
		s.BuildVersion, s.Total.Seconds(), s.Decode.Seconds(), s.Composite.Seconds(), s.Encode.Seconds(), s.FPS(),
		system.HumanBytes(s.Memory.RSS),
	)
}

// Print writes the report to stdout and appends a line to benchmark.log.
func (s Stats) Print() {
	fmt.Print(s.Report())

	logEntry := fmt.Sprintf("[%s] Build: %s | Inputs: %d | Frames: %d | Total: %.2fs | Composite: %.2fs | Encode: %.2fs | FPS: %.2f\n",
		time.Now().Format("2006-01-02 15:04:05"),
		s.BuildVersion,
		s.Inputs,
		s.Frames,
		s.Total.Seconds(),
		s.Composite.Seconds(),
		s.Encode.Seconds(),
		s.FPS(),
	)

	if err := appendLog("benchmark.log", logEntry); err != nil {
		fmt.Printf("[!] Не удалось записать benchmark.log: %v\n", err)
	}
}

func appendLog(path, entry string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
