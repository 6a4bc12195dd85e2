// Command mtf-track tracks planar regions through a directory of frames and writes their corners as CSV.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/LdDl/mtf-go/internal/config"
	"github.com/LdDl/mtf-go/mtf"
	"github.com/LdDl/mtf-go/mtf/sm"
	"github.com/LdDl/mtf-go/mtf/tracker"
	"github.com/pkg/errors"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to JSON tracker config, defaults are used when empty")
		framesDir  = flag.String("frames", "", "directory with frames (png or jpeg), processed in lexical order")
		regions    = flag.String("regions", "", "initial regions as x,y,w,h separated by ';'")
		outPath    = flag.String("out", "", "CSV output path, stdout when empty")
		profile    = flag.Bool("profile", false, "print iteration and frame time statistics on exit")
	)
	flag.Parse()

	if err := run(*configPath, *framesDir, *regions, *outPath, *profile); err != nil {
		fmt.Fprintln(os.Stderr, "mtf-track:", err)
		os.Exit(1)
	}
}

func run(configPath, framesDir, regionsSpec, outPath string, profile bool) (err error) {
	cfg := config.DefaultTrackerConfig()
	if configPath != "" {
		loaded, err := config.LoadTrackerConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	regions, err := parseRegions(regionsSpec)
	if err != nil {
		return err
	}
	paths, err := listFrames(framesDir)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if outPath != "" {
		file, createErr := os.Create(outPath)
		if createErr != nil {
			return errors.Wrapf(createErr, "Can't create output '%s'", outPath)
		}
		defer closeOutput(file, outPath, &err)
		out = file
	}
	writer := csv.NewWriter(out)
	defer writer.Flush()
	if err := writer.Write([]string{"frame", "target", "lost", "x1", "y1", "x2", "y2", "x3", "y3", "x4", "y4"}); err != nil {
		return errors.Wrap(err, "Can't write CSV header")
	}

	collector := &mtf.BasicCollector{}
	// per iteration traces show up at debug level only
	observers := mtf.MultiCollector{collector, mtf.LogCollector{Logger: logger.WithComponent("profile")}}
	multi, err := cfg.NewMultiTracker(logger)
	if err != nil {
		return err
	}
	first, err := loadFrame(paths[0])
	if err != nil {
		return err
	}
	// targets are reported by their position in the regions flag
	targets := make([]*tracker.Target, len(regions))
	for i, corners := range regions {
		method, err := cfg.NewSearchMethod(sm.WithLogger(logger), sm.WithCollector(observers))
		if err != nil {
			return err
		}
		target, err := multi.Add(method, first, corners)
		if err != nil {
			return errors.Wrapf(err, "Can't start target %d", i)
		}
		targets[i] = target
		if err := writer.Write(cornersRecord(0, fmt.Sprint(i), false, target.GetCorners())); err != nil {
			return errors.Wrap(err, "Can't write CSV record")
		}
	}

	start := time.Now()
	for frameIdx, path := range paths[1:] {
		frame, err := loadFrame(path)
		if err != nil {
			return err
		}
		for _, id := range multi.Update(frame) {
			logger.Warn("target dropped", "target", id.String(), "frame", frameIdx+1)
		}
		for i, target := range targets {
			if _, alive := multi.Targets[target.GetID()]; !alive {
				continue
			}
			if err := writer.Write(cornersRecord(frameIdx+1, fmt.Sprint(i), target.Lost(), target.GetCorners())); err != nil {
				return errors.Wrap(err, "Can't write CSV record")
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.Wrap(err, "Can't flush CSV")
	}

	logger.Info("tracking finished",
		"frames", len(paths),
		"targets", len(regions),
		"alive", len(multi.Targets),
		"duration", time.Since(start),
	)
	if profile {
		fmt.Fprintf(os.Stderr, "updates: %d, failed: %d, iterations: %d, avg update: %s, resamples: %d/%d\n",
			collector.Frames.Load(),
			collector.FrameErrors.Load(),
			collector.Iterations.Load(),
			time.Duration(collector.AvgFrameNanos()),
			collector.Resamples.Load(),
			collector.ResampleChecks.Load(),
		)
	}
	return nil
}

// closeOutput closes c and reports its error unless *err already holds one
func closeOutput(c io.Closer, path string, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = errors.Wrapf(cerr, "Can't close output '%s'", path)
	}
}
