package system

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FindLatestGIF возвращает самый свежий .gif в папке.
func FindLatestGIF(dir string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), ".gif") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("в папке %s не найдено GIF-файлов", dir)
	}

	return latestFile, nil
}

// OutputName строит имя результата вида <name>_<timestamp>.gif в dir.
func OutputName(dir, nameSource string, now time.Time) string {
	base := filepath.Base(nameSource)
	nameOnly := strings.TrimSuffix(base, filepath.Ext(base))
	cleanName := strings.ReplaceAll(nameOnly, " ", "_")
	return filepath.Join(dir, fmt.Sprintf("%s_%s.gif", cleanName, now.Format("2006-01-02_15-04-05")))
}
