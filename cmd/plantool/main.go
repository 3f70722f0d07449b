// Command plantool validates scenarios and previews render plans offline.
//
//	plantool -scenario story.yaml -durations durations.yaml
//	plantool -scenario answer.txt -validate -shots 5
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/scenario"
	"github.com/reelsmith/api/internal/timeline"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Scenario file: YAML (.yaml, .yml) or raw model output containing JSON")
	durationsPath := flag.String("durations", "", "YAML or JSON map of shot id to measured narration seconds")
	validateOnly := flag.Bool("validate", false, "Only validate the scenario")
	shots := flag.Int("shots", 0, "Required shot count (0 accepts 1-8)")
	totalSec := flag.Float64("total", 0, "Required sum of declared shot durations in seconds")
	fps := flag.Int("fps", 30, "Frames per second")
	gapMs := flag.Int("gap-ms", 220, "Minimum silence between narrations in ms")
	defaultShotSec := flag.Float64("default-shot", 4, "Length of a shot without narration length or hints")
	openingSec := flag.Float64("opening", 0, "Opening card length in seconds")
	endingSec := flag.Float64("ending", 0, "Ending card length in seconds")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "plantool: -scenario is required")
		flag.Usage()
		os.Exit(2)
	}

	sc, err := loadScenario(*scenarioPath, scenario.Options{ExactShots: *shots, TotalDurationSec: *totalSec})
	if err != nil {
		fail(err)
	}

	if *validateOnly {
		fmt.Printf("scenario %q is valid: %d shots\n", sc.Title, len(sc.Shots))
		return
	}

	durations := map[string]float64{}
	if *durationsPath != "" {
		data, err := os.ReadFile(*durationsPath)
		if err != nil {
			fail(err)
		}
		// JSON objects are valid YAML.
		if err := yaml.Unmarshal(data, &durations); err != nil {
			fail(fmt.Errorf("durations: %w", err))
		}
	}

	assets := make(map[string]model.ShotAsset, len(durations))
	for id, sec := range durations {
		assets[id] = model.ShotAsset{ShotID: id, AudioDurationSec: sec}
	}

	params := timeline.Params{
		FPS:            *fps,
		NarrationGapMs: *gapMs,
		DefaultShotSec: *defaultShotSec,
		OpeningCardSec: *openingSec,
		EndingCardSec:  *endingSec,
	}
	plan, err := timeline.Synthesize(sc, assets, params)
	if err != nil {
		fail(err)
	}

	if err := writePlan(os.Stdout, plan); err != nil {
		fail(err)
	}

	if violations := timeline.Check(plan, timeline.GapFrames(*gapMs, *fps)); len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, "violation:", v)
		}
		os.Exit(1)
	}
}

// loadScenario reads YAML files directly and treats anything else as raw
// model output that has to go through extraction.
func loadScenario(path string, opts scenario.Options) (*model.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v := scenario.New()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var sc model.Scenario
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("scenario: %w", err)
		}
		if errs := v.Check(&sc, opts); len(errs) > 0 {
			return nil, errs
		}
		return &sc, nil
	default:
		return v.Validate(string(data), opts)
	}
}

func writePlan(w io.Writer, plan *model.RenderPlan) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(plan); err != nil {
		return err
	}
	return enc.Close()
}

func fail(err error) {
	var errs scenario.ValidationErrors
	if errors.As(err, &errs) {
		fmt.Fprintln(os.Stderr, "scenario is invalid:")
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "  -", e)
		}
	} else {
		fmt.Fprintln(os.Stderr, "plantool:", err)
	}
	os.Exit(1)
}
