package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ivlev/gifmerge/internal/compositor"
	"github.com/ivlev/gifmerge/internal/config"
	"github.com/ivlev/gifmerge/internal/encoder"
	"github.com/ivlev/gifmerge/internal/engine"
	"github.com/ivlev/gifmerge/internal/source"
	"github.com/ivlev/gifmerge/internal/system"
	"github.com/ivlev/gifmerge/internal/watermark"
)

var buildVersion = "dev"

func main() {
	// Создаем нужные директории, если их нет
	dirs := []string{"input/gif", "output"}
	for _, d := range dirs {
		os.MkdirAll(d, 0755)
	}

	defaults := config.DefaultMergeOptions()

	inputPtr := flag.String("input", "", "GIF-файлы или папки через запятую (по умолчанию: все GIF в input/gif/)")
	outputPtr := flag.String("output", "", "Путь к результату (если пусто, генерируется автоматически в output/)")
	jobPtr := flag.String("job", "", "YAML-файл задания (входы, опции, водяные знаки)")
	modePtr := flag.String("mode", string(defaults.Mode), "Режим: grid, sequence")
	bgPtr := flag.String("bg", string(defaults.Background), "Фон: transparent, original, white, black")
	columnsPtr := flag.Int("columns", 0, "Колонок в сетке (0 - авто, ceil(sqrt(n)))")
	intervalPtr := flag.Int("interval", defaults.FrameIntervalMs, "Интервал кадра (мс)")
	widthPtr := flag.Int("width", 0, "Ширина результата (0 - натуральная)")
	heightPtr := flag.Int("height", 0, "Высота результата (0 - натуральная)")
	lockPtr := flag.Bool("lock-aspect", defaults.LockAspectRatio, "Сохранять пропорции при задании одной стороны")
	interpPtr := flag.String("interp", string(defaults.Interpolation), "Интерполяция: nearest, bilinear")

	textPtr := flag.String("text", "", "Текстовый водяной знак")
	textColorPtr := flag.String("text-color", "#ffffff", "Цвет текста (#rrggbb или #rrggbbaa)")
	textSizePtr := flag.Float64("text-size", 24, "Размер шрифта")
	wmPtr := flag.String("watermark", "", "PNG водяной знак")
	qrPtr := flag.String("qr", "", "Содержимое QR-кода для водяного знака")
	wmLayerPtr := flag.Int("wm-layer", 1, "Слой водяных знаков (<0 под кадрами, >0 поверх)")
	wmTilingPtr := flag.String("wm-tiling", string(watermark.TilingDirect), "Размещение: direct, fill, repeat")
	wmOpacityPtr := flag.Float64("wm-opacity", 1, "Непрозрачность водяных знаков [0..1]")
	wmRotatePtr := flag.Float64("wm-rotate", 0, "Поворот водяных знаков (градусы по часовой)")
	wmXPtr := flag.Int("wm-x", 0, "X водяного знака")
	wmYPtr := flag.Int("wm-y", 0, "Y водяного знака")

	workersPtr := flag.Int("workers", runtime.NumCPU(), "Потоки")
	statsPtr := flag.Bool("stats", false, "Показать отчет о производительности")

	flag.Parse()

	cfg := &config.Config{
		OutputPath:   *outputPtr,
		JobFile:      *jobPtr,
		Workers:      *workersPtr,
		ShowStats:    *statsPtr,
		BuildVersion: buildVersion,
		Options: config.MergeOptions{
			Mode:            config.MergeMode(*modePtr),
			Background:      config.BackgroundPolicy(*bgPtr),
			Columns:         *columnsPtr,
			FrameIntervalMs: *intervalPtr,
			LockAspectRatio: *lockPtr,
			Interpolation:   config.Interpolation(*interpPtr),
		},
	}

	var (
		src        source.Source
		watermarks []*watermark.Watermark
		err        error

		retargetColumns bool
		jobColumns      int
	)

	if cfg.JobFile != "" {
		job, err := config.ReadJob(cfg.JobFile)
		if err != nil {
			log.Fatalf("[-] Ошибка чтения задания: %v", err)
		}
		fmt.Printf("[*] Используется задание: %s\n", cfg.JobFile)
		baseDir := filepath.Dir(cfg.JobFile)
		var ids, paths []string
		for _, in := range job.Inputs {
			p := in.Path
			if !filepath.IsAbs(p) {
				p = filepath.Join(baseDir, p)
			}
			ids = append(ids, in.ID)
			paths = append(paths, p)
			cfg.InputPaths = append(cfg.InputPaths, p)
		}
		if src, err = source.NewGIFSourceWithIDs(ids, paths); err != nil {
			log.Fatalf("[-] Ошибка инициализации источника: %v", err)
		}
		for _, ws := range job.Watermarks {
			wm, err := ws.Build(baseDir)
			if err != nil {
				log.Fatalf("[-] Ошибка водяного знака: %v", err)
			}
			watermarks = append(watermarks, wm)
		}
		flagOpts := cfg.Options
		cfg.Options = job.Options
		jobColumns = job.Options.Columns
		retargetColumns = applyFlagOverrides(&cfg.Options, flagOpts, flagSet)
		if cfg.OutputPath == "" && job.Output != "" {
			cfg.OutputPath = job.Output
		}
	} else {
		if *inputPtr == "" {
			cfg.InputPaths = []string{"input/gif"}
		} else {
			cfg.InputPaths = strings.Split(*inputPtr, ",")
		}
		cfg.InputPaths = append(cfg.InputPaths, flag.Args()...)
		if src, err = source.NewGIFSource(cfg.InputPaths...); err != nil {
			log.Fatalf("[-] Ошибка инициализации источника: %v", err)
		}
	}
	defer src.Close()

	if src.Count() == 0 {
		log.Fatalf("[-] Ошибка: не найдено ни одного GIF. Положите файлы в input/gif/")
	}

	// Целевой размер задается после того, как известен натуральный размер холста
	natural := image.Point{}
	if cfg.Options.Mode == config.ModeGrid {
		natural, err = source.NaturalGridSize(src, cfg.Options.Columns)
		if err != nil {
			log.Printf("[!] Не удалось определить размер сетки: %v", err)
		}
		// Задание рассчитано на другое число колонок: сохраняем масштаб
		if retargetColumns && (cfg.Options.TargetWidth > 0 || cfg.Options.TargetHeight > 0) {
			if old, err := source.NaturalGridSize(src, jobColumns); err == nil {
				cfg.Options.Retarget(old.X, natural.X, natural.Y)
			}
		}
	}
	applyTargetSize(&cfg.Options, *widthPtr, *heightPtr, natural)
	if err := cfg.Options.Validate(); err != nil {
		log.Fatalf("[-] %v", err)
	}

	flagMarks, err := buildFlagWatermarks(*wmPtr, *qrPtr, *textPtr, *textColorPtr, *textSizePtr)
	if err != nil {
		log.Fatalf("[-] Ошибка водяного знака: %v", err)
	}
	for _, wm := range flagMarks {
		wm.Position = image.Pt(*wmXPtr, *wmYPtr)
		wm.RotationDegrees = *wmRotatePtr
		wm.Opacity = *wmOpacityPtr
		wm.LayerOrder = *wmLayerPtr
		wm.Tiling = watermark.TilingMode(*wmTilingPtr)
		if err := wm.Validate(); err != nil {
			log.Fatalf("[-] %v", err)
		}
	}
	watermarks = append(watermarks, flagMarks...)

	var inputs []engine.Input
	for i := 0; i < src.Count(); i++ {
		data, err := src.Read(i)
		if err != nil {
			log.Printf("[!] Не удалось прочитать %s: %v", src.Name(i), err)
			continue
		}
		if w, h, err := src.Dimensions(i); err == nil {
			fmt.Printf("[*] Источник: %s (%dx%d)\n", src.Name(i), w, h)
		}
		inputs = append(inputs, engine.Input{ID: src.ID(i), Name: src.Name(i), Data: data})
	}

	if len(inputs) == 0 {
		log.Fatalf("[-] Ошибка: ни один GIF не удалось прочитать")
	}

	finalOutput := cfg.OutputPath
	if finalOutput == "" {
		nameSource := cfg.InputPaths[0]
		if fi, err := os.Stat(nameSource); err == nil && fi.IsDir() {
			if latest, err := system.FindLatestGIF(nameSource); err == nil {
				nameSource = latest
			}
		}
		finalOutput = system.OutputName("output", nameSource, time.Now())
	}

	fmt.Println("--- [PROJECT: GIF MERGE] ---")
	fmt.Printf("[*] Входов: %d | Режим: %s | Фон: %s | Интервал: %d мс\n", len(inputs), cfg.Options.Mode, cfg.Options.Background, cfg.Options.FrameIntervalMs)
	fmt.Println("-----------------------------")

	pipeline := engine.NewPipeline(&compositor.Default{}, &encoder.Encoder{Workers: cfg.Workers})
	pipeline.Workers = cfg.Workers
	pipeline.ShowStats = cfg.ShowStats
	pipeline.BuildVersion = cfg.BuildVersion
	lastShown := -10
	pipeline.Progress = func(percent int, label string) {
		if percent-lastShown >= 10 || percent == 100 {
			lastShown = percent
			fmt.Printf("[>] %3d%% %s\n", percent, label)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		pipeline.Cancel()
	}()

	res, err := pipeline.Run(ctx, engine.Job{Inputs: inputs, Watermarks: watermarks, Options: cfg.Options})
	if err != nil {
		log.Fatalf("[-] Ошибка проекта: %v", err)
	}

	if err := os.WriteFile(finalOutput, res.GIF, 0644); err != nil {
		log.Fatalf("[-] Ошибка записи результата: %v", err)
	}
	if err := encoder.Validate(res.GIF, res.Frames, cfg.Options.FrameIntervalMs); err != nil {
		log.Printf("[!] Проверка результата не пройдена: %v", err)
	}

	fmt.Printf("[+++] Успех! Результат: %s (%dx%d, кадров: %d, %s)\n", finalOutput, res.Width, res.Height, res.Frames, system.HumanBytes(uint64(len(res.GIF))))
}

// applyFlagOverrides copies the explicitly set flags over the options of a job
// file. It reports whether the column count changed.
func applyFlagOverrides(opts *config.MergeOptions, flagOpts config.MergeOptions, set func(string) bool) bool {
	if set("mode") {
		opts.Mode = flagOpts.Mode
	}
	if set("bg") {
		opts.Background = flagOpts.Background
	}
	if set("interval") {
		opts.FrameIntervalMs = flagOpts.FrameIntervalMs
	}
	if set("interp") {
		opts.Interpolation = flagOpts.Interpolation
	}
	if set("lock-aspect") {
		opts.LockAspectRatio = flagOpts.LockAspectRatio
	}
	if set("columns") && flagOpts.Columns != opts.Columns {
		opts.Columns = flagOpts.Columns
		return true
	}
	return false
}

// applyTargetSize sets the output size from -width / -height. Both given
// means both are taken as is, one given derives the other when locked.
func applyTargetSize(opts *config.MergeOptions, width, height int, natural image.Point) {
	switch {
	case width > 0 && height > 0:
		opts.TargetWidth, opts.TargetHeight = width, height
	case width > 0:
		opts.SetTargetWidth(width, natural.X, natural.Y)
	case height > 0:
		opts.SetTargetHeight(height, natural.X, natural.Y)
	}
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func buildFlagWatermarks(pngPath, qrContent, text, textColor string, textSize float64) ([]*watermark.Watermark, error) {
	var out []*watermark.Watermark
	if pngPath != "" {
		data, err := os.ReadFile(pngPath)
		if err != nil {
			return nil, err
		}
		wm, err := watermark.NewImage("flag-image", data)
		if err != nil {
			return nil, err
		}
		out = append(out, wm)
	}
	if qrContent != "" {
		wm, err := watermark.NewQRCode("flag-qr", qrContent, 128)
		if err != nil {
			return nil, err
		}
		out = append(out, wm)
	}
	if text != "" {
		c, err := config.ParseColor(textColor)
		if err != nil {
			return nil, err
		}
		out = append(out, watermark.NewText("flag-text", text, textSize, c))
	}
	return out, nil
}
