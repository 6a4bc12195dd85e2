package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/LdDl/mtf-go/mtf"
	"github.com/pkg/errors"
)

var frameExtensions = []string{".png", ".jpg", ".jpeg"}

// listFrames returns image files of dir in lexical order
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't list frames in '%s'", dir)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if slices.Contains(frameExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	slices.Sort(paths)
	if len(paths) < 2 {
		return nil, fmt.Errorf("at least 2 frames are required in '%s', found %d", dir, len(paths))
	}
	return paths, nil
}

// loadFrame decodes an image file into grayscale
func loadFrame(path string) (*mtf.GrayImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't open frame '%s'", path)
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't decode frame '%s'", path)
	}
	return mtf.NewGrayImageFrom(img), nil
}

// parseRegions parses "x,y,w,h" rectangles separated by ';'
func parseRegions(s string) ([]mtf.Corners, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("at least one region is required")
	}
	regions := make([]mtf.Corners, 0)
	for _, part := range strings.Split(s, ";") {
		fields := strings.Split(part, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("region '%s' must have 4 values x,y,w,h", part)
		}
		values := make([]float64, 4)
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid float '%s' in region '%s': %w", f, part, err)
			}
			values[i] = v
		}
		if values[2] <= 0 || values[3] <= 0 {
			return nil, fmt.Errorf("region '%s' must have positive size", part)
		}
		regions = append(regions, mtf.NewCornersFromRect(mtf.NewRect(values[0], values[1], values[2], values[3])))
	}
	return regions, nil
}

// cornersRecord formats one CSV row: frame, target, lost flag and 8 corner coordinates
func cornersRecord(frame int, target string, lost bool, corners mtf.Corners) []string {
	record := make([]string, 0, 11)
	record = append(record, strconv.Itoa(frame), target, strconv.FormatBool(lost))
	for _, p := range corners {
		record = append(record, strconv.FormatFloat(p.X, 'f', 3, 64), strconv.FormatFloat(p.Y, 'f', 3, 64))
	}
	return record
}
