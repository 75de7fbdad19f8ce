// Command pattern-plot renders a configured ray pattern as an
// azimuth/elevation scatter, to PNG and/or an interactive HTML page.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/simlidar/internal/config"
	"github.com/banshee-data/simlidar/internal/security"
	"github.com/banshee-data/simlidar/internal/simlidar/pattern"
	"github.com/banshee-data/simlidar/internal/simlidar/patternplot"
	"github.com/banshee-data/simlidar/internal/version"
)

func main() {
	configFile := flag.String("config", "", "Sensor config (.json or .yaml); empty loads "+config.DefaultConfigPath)
	pngFile := flag.String("png", "", "Output PNG path (defaults to a name derived from the title when -html is also empty)")
	htmlFile := flag.String("html", "", "Output HTML path")
	title := flag.String("title", "", "Plot title (defaults to the pattern summary)")
	list := flag.Bool("list-datasheets", false, "List embedded datasheets and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("pattern-plot"))
		return
	}
	if *list {
		for _, name := range pattern.Datasheets() {
			fmt.Println(name)
		}
		return
	}
	var cfg *config.SensorConfig
	if *configFile == "" {
		cfg = config.MustLoadDefaultConfig()
	} else {
		var err error
		cfg, err = config.LoadSensorConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	set, err := cfg.BuildPattern()
	if err != nil {
		log.Fatalf("Failed to build pattern: %v", err)
	}
	if *title == "" {
		*title = fmt.Sprintf("%s pattern, %d rays (%016x)", cfg.GetPattern(), set.Len(), set.Fingerprint())
	}

	if *pngFile == "" && *htmlFile == "" {
		*pngFile = security.SanitizeFilename(*title) + ".png"
	}
	for _, out := range []string{*pngFile, *htmlFile} {
		if out == "" {
			continue
		}
		if err := security.ValidateOutputPath(out); err != nil {
			log.Fatalf("Refusing to write: %v", err)
		}
	}

	if *pngFile != "" {
		if err := patternplot.SavePNG(set, *title, *pngFile); err != nil {
			log.Fatalf("Failed to write PNG: %v", err)
		}
		log.Printf("Wrote %s", *pngFile)
	}

	if *htmlFile != "" {
		f, err := os.Create(*htmlFile)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *htmlFile, err)
		}
		if err := patternplot.RenderHTML(set, *title, f); err != nil {
			f.Close()
			log.Fatalf("Failed to render HTML: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("Failed to close %s: %v", *htmlFile, err)
		}
		log.Printf("Wrote %s", *htmlFile)
	}
}
