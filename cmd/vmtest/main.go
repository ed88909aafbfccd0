// vmtest compiles and runs every case listed in YAML manifests, checks the
// expectations written there and compares the results with golden JSON
// files kept next to the manifests.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/schollz/progressbar/v3"
	"github.com/xplshn/vmc/pkg/compiler"
	"github.com/xplshn/vmc/pkg/config"
	"github.com/xplshn/vmc/pkg/container"
	"github.com/xplshn/vmc/pkg/emu"
	"gopkg.in/yaml.v3"
)

// Manifest is one YAML file of cases sharing a golden file.
type Manifest struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`

	path string
}

type Case struct {
	Name       string          `yaml:"name"`
	Input      string          `yaml:"input"`
	Raw        bool            `yaml:"raw"`
	EntryNames []string        `yaml:"entry_names"`
	LocalSlots int             `yaml:"local_slots"`
	StackDepth int             `yaml:"stack_depth"`
	Features   map[string]bool `yaml:"features"`
	MaxSteps   int             `yaml:"max_steps"`
	Expect     Expectation     `yaml:"expect"`
}

type Expectation struct {
	ExitCode       int32  `yaml:"exit_code"`
	Stdout         string `yaml:"stdout"`
	StdoutContains string `yaml:"stdout_contains"`
	Error          string `yaml:"error"`
	Warnings       int    `yaml:"warnings"`
}

// Result is what a case produced. It is also the golden file format.
type Result struct {
	InputHash string   `json:"input_hash"`
	Checksum  string   `json:"checksum,omitempty"`
	Words     int      `json:"words,omitempty"`
	ExitCode  int32    `json:"exit_code"`
	Stdout    string   `json:"stdout"`
	Warnings  []string `json:"warnings,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type CaseReport struct {
	Manifest string        `json:"manifest"`
	Case     string        `json:"case"`
	Status   string        `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message  string        `json:"message,omitempty"`
	Diff     string        `json:"diff,omitempty"`
	Duration time.Duration `json:"duration"`
	Result   *Result       `json:"result,omitempty"`
}

var (
	manifests  = flag.String("manifests", "testdata/*.yaml", "Glob pattern(s) for case manifests (space-separated).")
	update     = flag.Bool("update", false, "Rewrite the golden files with the current results.")
	outputJSON = flag.String("output", ".vmtest_results.json", "Output file for the JSON report.")
	jobs       = flag.Int("j", 4, "Number of parallel jobs.")
	verbose    = flag.Bool("v", false, "Print every case, not only failures.")
	noProgress = flag.Bool("no-progress", false, "Disable the progress bar.")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"

	defaultMaxSteps = 10_000_000
)

func main() {
	flag.Parse()
	log.SetFlags(0)
	if *jobs < 1 {
		*jobs = 1
	}

	var all []*Manifest
	files, err := expandGlobPatterns(*manifests)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	for _, f := range files {
		m, err := loadManifest(f)
		if err != nil {
			log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err)
		}
		all = append(all, m)
	}
	if len(all) == 0 {
		log.Println("No manifests found matching the pattern(s).")
		return
	}

	reports := runAll(all)
	printSummary(reports)
	writeJSONReport(reports)

	if *update {
		for _, m := range all {
			if err := writeGolden(m, reports); err != nil {
				log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err)
			}
		}
		return
	}
	for _, r := range reports {
		if r.Status == "FAIL" || r.Status == "ERROR" {
			os.Exit(1)
		}
	}
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	m.path = path
	return &m, nil
}

func expandGlobPatterns(patterns string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Fields(patterns) {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func goldenPath(m *Manifest) string {
	return filepath.Join(filepath.Dir(m.path), "."+m.Name+".json")
}

func loadGolden(m *Manifest) (map[string]*Result, error) {
	data, err := os.ReadFile(goldenPath(m))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	golden := make(map[string]*Result)
	if err := json.Unmarshal(data, &golden); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", goldenPath(m), err)
	}
	return golden, nil
}

func writeGolden(m *Manifest, reports []*CaseReport) error {
	golden := make(map[string]*Result)
	for _, r := range reports {
		if r.Manifest == m.path && r.Result != nil {
			golden[r.Case] = r.Result
		}
	}
	data, err := json.MarshalIndent(golden, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(goldenPath(m), append(data, '\n'), 0644); err != nil {
		return err
	}
	log.Printf("%s[SUCCESS]%s Golden file written to %s\n", cGreen, cNone, goldenPath(m))
	return nil
}

type job struct {
	m      *Manifest
	c      Case
	input  []byte
	golden *Result
}

func runAll(all []*Manifest) []*CaseReport {
	var pending []job
	var reports []*CaseReport

	// Cases whose input and settings hash the same are run once.
	seen := make(map[uint64]string)
	for _, m := range all {
		golden, err := loadGolden(m)
		if err != nil {
			reports = append(reports, &CaseReport{Manifest: m.path, Status: "ERROR", Message: err.Error()})
			continue
		}
		for _, c := range m.Cases {
			id := m.Name + "/" + c.Name
			input, err := os.ReadFile(filepath.Join(filepath.Dir(m.path), c.Input))
			if err != nil {
				reports = append(reports, &CaseReport{Manifest: m.path, Case: c.Name, Status: "ERROR", Message: err.Error()})
				continue
			}
			key := fingerprint(input, c)
			if first, ok := seen[key]; ok {
				reports = append(reports, &CaseReport{Manifest: m.path, Case: c.Name, Status: "SKIP", Message: "identical to " + first})
				continue
			}
			seen[key] = id
			pending = append(pending, job{m: m, c: c, input: input, golden: golden[c.Name]})
		}
	}

	var bar *progressbar.ProgressBar
	if !*noProgress {
		bar = progressbar.Default(int64(len(pending)), "running cases")
		defer bar.Close()
	}

	tasks := make(chan job, len(pending))
	results := make(chan *CaseReport, len(pending))
	var wg sync.WaitGroup
	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range tasks {
				results <- runCase(j)
				if bar != nil {
					bar.Add(1)
				}
			}
		}()
	}
	for _, j := range pending {
		tasks <- j
	}
	close(tasks)
	wg.Wait()
	close(results)

	for r := range results {
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool {
		if reports[i].Manifest != reports[j].Manifest {
			return reports[i].Manifest < reports[j].Manifest
		}
		return reports[i].Case < reports[j].Case
	})
	return reports
}

func fingerprint(input []byte, c Case) uint64 {
	h := xxhash.New()
	h.Write(input)
	settings := c
	settings.Name, settings.Expect = "", Expectation{}
	enc, _ := json.Marshal(settings)
	h.Write(enc)
	return h.Sum64()
}

func configFor(c Case) (*config.Config, error) {
	cfg := config.NewConfig()
	f := &config.File{
		EntryNames: c.EntryNames,
		LocalSlots: c.LocalSlots,
		StackDepth: c.StackDepth,
		Features:   c.Features,
	}
	if err := cfg.Apply(f); err != nil {
		return nil, err
	}
	return cfg, nil
}

func execute(c Case, input []byte) *Result {
	res := &Result{InputHash: fmt.Sprintf("%016x", xxhash.Sum64(input))}

	cfg, err := configFor(c)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	var ct *container.Container
	if c.Raw {
		code := input
		if container.IsHexText(input) {
			code, err = container.ReadHex(bytes.NewReader(input))
		}
		ct = &container.Container{Code: code}
	} else {
		ct, err = container.Decode(input)
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}

	out, err := compiler.CompileContainer(ct, cfg)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	for _, w := range out.Warnings {
		res.Warnings = append(res.Warnings, fmt.Sprintf("-W%s: %s", cfg.Warnings[w.Kind].Name, w))
	}
	res.Checksum = fmt.Sprintf("%016x", out.Machine.Checksum())
	res.Words = len(out.Machine.Words)

	maxSteps := c.MaxSteps
	if maxSteps == 0 {
		maxSteps = defaultMaxSteps
	}
	var stdout bytes.Buffer
	cpu := emu.New(out.Machine.Words)
	cpu.Output = &stdout
	err = cpu.Run(maxSteps)
	res.Stdout, res.ExitCode = stdout.String(), cpu.ExitCode
	if err != nil {
		res.Error = "run: " + err.Error()
	}
	return res
}

func runCase(j job) *CaseReport {
	start := time.Now()
	res := execute(j.c, j.input)
	r := &CaseReport{Manifest: j.m.path, Case: j.c.Name, Duration: time.Since(start), Result: res}

	var problems []string
	exp := j.c.Expect
	switch {
	case exp.Error != "" && !strings.Contains(res.Error, exp.Error):
		problems = append(problems, fmt.Sprintf("error %q does not contain %q", res.Error, exp.Error))
	case exp.Error == "" && res.Error != "":
		problems = append(problems, "unexpected error: "+res.Error)
	}
	if exp.Error == "" {
		if res.ExitCode != exp.ExitCode {
			problems = append(problems, fmt.Sprintf("exit code %d, want %d", res.ExitCode, exp.ExitCode))
		}
		if exp.Stdout != "" && res.Stdout != exp.Stdout {
			problems = append(problems, "stdout mismatch:\n"+cmp.Diff(exp.Stdout, res.Stdout))
		}
		if exp.StdoutContains != "" && !strings.Contains(res.Stdout, exp.StdoutContains) {
			problems = append(problems, fmt.Sprintf("stdout does not contain %q", exp.StdoutContains))
		}
		if len(res.Warnings) != exp.Warnings {
			problems = append(problems, fmt.Sprintf("%d warnings, want %d", len(res.Warnings), exp.Warnings))
		}
	}
	if j.golden != nil && !*update {
		if diff := cmp.Diff(j.golden, res); diff != "" {
			problems = append(problems, "golden mismatch (-golden +got):\n"+diff)
		}
	}

	switch {
	case len(problems) > 0:
		r.Status, r.Message, r.Diff = "FAIL", problems[0], strings.Join(problems, "\n")
	case j.golden == nil && !*update:
		r.Status, r.Message = "PASS", "expectations met (no golden file)"
	default:
		r.Status, r.Message = "PASS", "all checks passed"
	}
	return r
}

func printSummary(reports []*CaseReport) {
	counts := make(map[string]int)
	for _, r := range reports {
		counts[r.Status]++
		name := r.Manifest + ":" + r.Case
		switch r.Status {
		case "FAIL", "ERROR":
			fmt.Printf("%s[%s]%s %s: %s\n", cRed, r.Status, cNone, name, r.Message)
			if r.Diff != "" && *verbose {
				fmt.Println(indentLines(r.Diff, "    "))
			}
		case "SKIP":
			if *verbose {
				fmt.Printf("%s[SKIP]%s %s: %s\n", cYellow, cNone, name, r.Message)
			}
		default:
			if *verbose {
				fmt.Printf("%s[PASS]%s %s (%v)\n", cGreen, cNone, name, r.Duration.Round(time.Microsecond))
			}
		}
	}
	fmt.Printf("\n%sSummary:%s %s%d passed%s, %s%d failed%s, %d errors, %d skipped\n",
		cBold, cNone, cGreen, counts["PASS"], cNone, cRed, counts["FAIL"], cNone, counts["ERROR"], counts["SKIP"])
}

func indentLines(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func writeJSONReport(reports []*CaseReport) {
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		log.Printf("%s[WARN]%s Failed to marshal report: %v\n", cYellow, cNone, err)
		return
	}
	if err := os.WriteFile(*outputJSON, data, 0644); err != nil {
		log.Printf("%s[WARN]%s Failed to write report %s: %v\n", cYellow, cNone, *outputJSON, err)
	}
}
