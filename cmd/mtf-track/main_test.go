package main

import (
	"encoding/csv"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LdDl/mtf-go/mtf"
)

func writeFrame(t *testing.T, path string, dx int) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 160, 160))
	for y := 0; y < 160; y++ {
		for x := 0; x < 160; x++ {
			fx, fy := float64(x-dx), float64(y)
			v := 40 + 180*math.Exp(-((fx-80)*(fx-80)+(fy-80)*(fy-80))/(2*16*16))
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatal(err)
	}
}

func TestParseRegions(t *testing.T) {
	regions, err := parseRegions("10,20,30,40; 1.5,2,3,4")
	if err != nil {
		t.Fatal(err)
	}
	if len(regions) != 2 {
		t.Errorf("incorrect number of regions: %d, expected: %d", len(regions), 2)
		return
	}
	correct := mtf.NewCornersFromRect(mtf.NewRect(10, 20, 30, 40))
	if regions[0] != correct {
		t.Errorf("incorrect region: %v, expected: %v", regions[0], correct)
	}
	for _, bad := range []string{"", "1,2,3", "1,2,x,4", "1,2,0,4"} {
		if _, err := parseRegions(bad); err == nil {
			t.Errorf("region '%s' should be rejected", bad)
		}
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	framesDir := filepath.Join(dir, "frames")
	if err := os.Mkdir(framesDir, 0755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		writeFrame(t, filepath.Join(framesDir, "frame_"+string(rune('0'+i))+".png"), i)
	}
	// not a frame
	if err := os.WriteFile(filepath.Join(framesDir, "notes.txt"), []byte("skip"), 0644); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{"log_level": "error", "isometry": {"resx": 15, "resy": 15}}`), 0644); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(dir, "out.csv")

	if err := run(configPath, framesDir, "50,50,60,60", outPath, false); err != nil {
		t.Fatal(err)
	}
	file, err := os.Open(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	// header plus one record per frame
	if len(records) != 4 {
		t.Errorf("incorrect number of records: %d, expected: %d", len(records), 4)
		return
	}
	if records[3][0] != "2" || records[3][2] != "false" {
		t.Errorf("incorrect last record: %v", records[3])
	}

	if err := run(configPath, filepath.Join(dir, "missing"), "50,50,60,60", outPath, false); err == nil {
		t.Errorf("missing frames directory should fail")
	}
}

type failingCloser struct{}

func (failingCloser) Close() error { return errors.New("disk full") }

func TestCloseOutput(t *testing.T) {
	var err error
	closeOutput(failingCloser{}, "out.csv", &err)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("close error should be reported, got %v", err)
	}
	first := errors.New("write failed")
	err = first
	closeOutput(failingCloser{}, "out.csv", &err)
	if err != first {
		t.Errorf("earlier error should be kept, got %v", err)
	}
}
