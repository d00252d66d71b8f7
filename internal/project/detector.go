package project

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var sourceDirNames = map[string]bool{"src": true, "lib": true, "cmd": true, "internal": true, "pkg": true}
var testDirNames = map[string]bool{"test": true, "tests": true, "spec": true, "__tests__": true}
var configDirNames = map[string]bool{"config": true, "conf": true, ".config": true}
var docDirNames = map[string]bool{"doc": true, "docs": true}

// Detector resolves a canonical path to a ProjectAnalysis, consulting the
// cache before doing real filesystem work (spec.md §4.4).
type Detector struct {
	cache              *Cache
	maxAnalysisTime    time.Duration
	maxProjectFiles    int
	minConfidenceCache float64
	cacheServeFloor    float64
	cacheMaxAge        time.Duration
}

// NewDetector builds a Detector backed by cache, applying the configured
// analysis-time cap, file-scan bound, and the two distinct confidence
// thresholds: minConfidenceCache gates insertion (spec.md §4.4 step 8, default
// 0.8), cacheServeFloor gates whether a cached hit may be served (spec.md §3
// invariant, default 0.9).
func NewDetector(cache *Cache, maxAnalysisTime time.Duration, maxProjectFiles int, minConfidenceCache, cacheServeFloor float64) *Detector {
	if maxAnalysisTime <= 0 {
		maxAnalysisTime = 2 * time.Second
	}
	if maxProjectFiles <= 0 {
		maxProjectFiles = 5000
	}
	return &Detector{
		cache:              cache,
		maxAnalysisTime:    maxAnalysisTime,
		maxProjectFiles:    maxProjectFiles,
		minConfidenceCache: minConfidenceCache,
		cacheServeFloor:    cacheServeFloor,
		cacheMaxAge:        60 * time.Minute,
	}
}

// Analyze produces a ProjectAnalysis for the canonical path, serving from
// cache when the entry is fresh and otherwise running the full detection
// protocol (spec.md §4.4 steps 1-8).
func (d *Detector) Analyze(path string) (*Analysis, error) {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	if cached, ok := d.cache.Get(canonical); ok {
		if cached.Fresh(time.Now(), d.cacheMaxAge, d.cacheServeFloor) {
			return cached, nil
		}
	}

	start := time.Now()
	analysis, timedOut := d.detect(canonical, start)
	analysis.AnalyzedAt = time.Now()
	analysis.AnalysisTook = time.Since(start)

	if timedOut {
		analysis.Confidence /= 2
	}

	if analysis.Confidence >= d.minConfidenceCache {
		d.cache.Put(canonical, analysis)
	}

	return analysis, nil
}

func (d *Detector) elapsed(start time.Time) bool {
	return time.Since(start) >= d.maxAnalysisTime
}

func (d *Detector) detect(root string, start time.Time) (*Analysis, bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return &Analysis{Path: root, ExtHistogram: map[string]int{}}, false
	}

	best := langResult{}
	bestLang := ""
	for _, a := range orderedAnalyzers {
		if d.elapsed(start) {
			return d.partial(root, bestLang, best, true), true
		}
		r := a.detect(root, entries)
		if r.confidence > best.confidence {
			best = r
			bestLang = a.language
		}
	}

	if best.confidence < 0.5 {
		lang, hist, timedOut := d.histogramFallback(root, start)
		bestLang = lang
		best.confidence = histogramConfidence(hist)
		result := d.partial(root, bestLang, best, timedOut)
		result.ExtHistogram = hist
		result.TotalFiles = sumHistogram(hist)
		classifyDirs(result, root)
		attachVCS(result, root)
		return result, timedOut
	}

	result := d.partial(root, bestLang, best, false)
	hist, totalFiles := scanExtensions(root, d.maxProjectFiles)
	result.ExtHistogram = hist
	result.TotalFiles = totalFiles
	classifyDirs(result, root)
	attachVCS(result, root)
	return result, false
}

func (d *Detector) partial(root, lang string, r langResult, timedOut bool) *Analysis {
	return &Analysis{
		Path:            root,
		PrimaryLanguage: lang,
		LanguageVersion: r.version,
		BuildSystem:     r.buildSystem,
		Frameworks:      r.frameworks,
		Dependencies:    r.dependencies,
		Confidence:      r.confidence,
		ExtHistogram:    map[string]int{},
	}
}

// histogramFallback walks the tree (bounded by maxProjectFiles) counting
// file extensions when no analyzer scored ≥ 0.5 (spec.md §4.4 step 4).
func (d *Detector) histogramFallback(root string, start time.Time) (string, map[string]int, bool) {
	hist, _ := scanExtensions(root, d.maxProjectFiles)
	lang := dominantLanguage(hist)
	return lang, hist, d.elapsed(start)
}

var extLanguages = map[string]string{
	".go": "Go", ".rs": "Rust", ".ts": "TypeScript", ".tsx": "TypeScript",
	".js": "JavaScript", ".jsx": "JavaScript", ".py": "Python", ".java": "Java",
	".rb": "Ruby", ".c": "C", ".cpp": "C++", ".h": "C", ".hpp": "C++",
}

func dominantLanguage(hist map[string]int) string {
	best, bestCount := "", 0
	for ext, count := range hist {
		if lang, ok := extLanguages[ext]; ok && count > bestCount {
			best, bestCount = lang, count
		}
	}
	return best
}

func histogramConfidence(hist map[string]int) float64 {
	total := sumHistogram(hist)
	if total == 0 {
		return 0
	}
	dominant := 0
	for ext, count := range hist {
		if _, ok := extLanguages[ext]; ok && count > dominant {
			dominant = count
		}
	}
	ratio := float64(dominant) / float64(total)
	// Extension-histogram inference is inherently weaker signal than a
	// manifest match; cap it below the 0.5 analyzer floor.
	if ratio > 0.45 {
		ratio = 0.45
	}
	return ratio
}

func sumHistogram(hist map[string]int) int {
	total := 0
	for _, c := range hist {
		total += c
	}
	return total
}

func scanExtensions(root string, maxFiles int) (map[string]int, int) {
	hist := map[string]int{}
	total := 0
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if total >= maxFiles {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		total++
		ext := filepath.Ext(path)
		if ext != "" {
			hist[ext]++
		}
		return nil
	})
	return hist, total
}

func classifyDirs(a *Analysis, root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		switch {
		case testDirNames[name]:
			a.TestDirs = append(a.TestDirs, e.Name())
		case sourceDirNames[name]:
			a.SourceDirs = append(a.SourceDirs, e.Name())
		case configDirNames[name]:
			a.ConfigDirs = append(a.ConfigDirs, e.Name())
		case docDirNames[name]:
			a.DocDirs = append(a.DocDirs, e.Name())
		}
	}
}

// attachVCS records best-effort git metadata; any failure is silently
// treated as "no VCS metadata available".
func attachVCS(a *Analysis, root string) {
	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		return
	}

	branch, err := runGit(root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return
	}
	remote, _ := runGit(root, "remote", "get-url", "origin")
	status, _ := runGit(root, "status", "--porcelain")

	a.VCS = &VCSInfo{
		Branch: branch,
		Remote: remote,
		Dirty:  strings.TrimSpace(status) != "",
	}
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
