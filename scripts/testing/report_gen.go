// Copyright 2026 The Teamplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command report_gen joins the TestPurpose annotations in _test.go files
// with a `go test -json` log and renders a test report.
//
// Usage:
//
//	go test -json ./... > /tmp/test.log
//	go run scripts/testing/report_gen.go -input /tmp/test.log -out-json report.json -out-md report.md
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const modulePath = "github.com/teamplane/teamplane/"

// TestMetadata holds info parsed from Go source comments
type TestMetadata struct {
	Name       string `json:"name"`
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Security   string `json:"security,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Package    string `json:"package"`
	Category   string `json:"category"`
	Type       string `json:"type"` // UT, SYSTEM, E2E
}

// GoTestEvent represents a single event from 'go test -json'
type GoTestEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// TestResult is a test joined with its outcome.
type TestResult struct {
	Name        string       `json:"name"`
	Package     string       `json:"package"`
	Status      string       `json:"status"`
	Elapsed     float64      `json:"elapsed"`
	Failure     string       `json:"failure,omitempty"`
	Annotations TestMetadata `json:"annotations"`
}

// ReportSummary aggregates all results.
type ReportSummary struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Total       int          `json:"total"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Results     []TestResult `json:"results"`
}

func main() {
	inputPath := flag.String("input", "", "Path to go test -json output file")
	outputJSON := flag.String("out-json", "", "Path for output JSON report")
	outputMD := flag.String("out-md", "", "Path for output Markdown report")
	title := flag.String("title", "Test Report", "Report title")
	flag.Parse()

	if *inputPath == "" || *outputJSON == "" || *outputMD == "" {
		fmt.Println("Usage: report_gen -input <json_file> -out-json <out_json> -out-md <out_md>")
		os.Exit(1)
	}

	meta := scanMetadata()
	results := parseTestOutput(*inputPath, meta)
	summary := generateSummary(results)

	saveJSON(summary, *outputJSON)
	saveMarkdown(summary, *outputMD, *title)

	if summary.Failed > 0 {
		fmt.Printf("\nTest Reporting: %d tests failed. Exiting with error.\n", summary.Failed)
		os.Exit(1)
	}
}

// scanMetadata walks the tree and collects the annotation banners above
// every Test function.
func scanMetadata() map[string]TestMetadata {
	metadataMap := make(map[string]TestMetadata)
	fset := token.NewFileSet()

	filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, "_test.go") {
			return nil
		}
		if strings.Contains(path, "vendor/") || strings.Contains(path, ".git/") {
			return nil
		}

		node, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return nil
		}

		pkgPath := packagePath(path)
		for _, decl := range node.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}

			meta := TestMetadata{
				Name:     fn.Name.Name,
				Package:  pkgPath,
				Type:     testType(pkgPath),
				Category: category(pkgPath),
			}
			if fn.Doc != nil {
				for _, line := range fn.Doc.List {
					text := strings.TrimSpace(strings.TrimPrefix(line.Text, "//"))
					for field, dst := range map[string]*string{
						"TestPurpose:":  &meta.Purpose,
						"Scope:":        &meta.Scope,
						"Security:":     &meta.Security,
						"Expected:":     &meta.Expected,
						"Test Case ID:": &meta.TestCaseID,
					} {
						if strings.HasPrefix(text, field) {
							*dst = strings.TrimSpace(strings.TrimPrefix(text, field))
						}
					}
				}
			}
			metadataMap[pkgPath+"."+fn.Name.Name] = meta
		}
		return nil
	})

	return metadataMap
}

func packagePath(filePath string) string {
	dir := strings.TrimPrefix(filepath.Dir(filePath), "./")
	if dir == "." {
		return "main"
	}
	return modulePath + dir
}

func testType(pkgPath string) string {
	relPath := strings.TrimPrefix(pkgPath, modulePath)
	if strings.HasPrefix(relPath, "tests/") {
		parts := strings.Split(relPath, "/")
		if len(parts) > 1 {
			return strings.ToUpper(parts[1])
		}
	}
	return "UT"
}

func category(pkgPath string) string {
	switch {
	case strings.Contains(pkgPath, "identity"):
		return "Credentials"
	case strings.Contains(pkgPath, "token"):
		return "Tokens"
	case strings.Contains(pkgPath, "tenant"):
		return "Subscription"
	case strings.Contains(pkgPath, "internal/auth"):
		return "Auth Flows"
	case strings.Contains(pkgPath, "audit"):
		return "Audit"
	case strings.Contains(pkgPath, "transport/http"):
		return "API"
	case strings.Contains(pkgPath, "config"):
		return "Config"
	}
	if t := testType(pkgPath); t != "UT" {
		return t + " Tests"
	}
	return "Other"
}

func parseTestOutput(path string, meta map[string]TestMetadata) []TestResult {
	// Start from all annotated tests so never-run tests still show up.
	states := make(map[string]*TestResult)
	for key, m := range meta {
		states[key] = &TestResult{Name: m.Name, Package: m.Package, Status: "not run", Annotations: m}
	}

	file, err := os.Open(path)
	if err != nil {
		fmt.Printf("Error opening test output: %v\n", err)
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event GoTestEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil || event.Test == "" {
			continue
		}

		key := event.Package + "." + event.Test
		res, ok := states[key]
		if !ok {
			annotations := TestMetadata{
				Name:     event.Test,
				Package:  event.Package,
				Type:     testType(event.Package),
				Category: category(event.Package),
			}
			// Subtests inherit the parent's banner.
			if parent, _, isSub := strings.Cut(event.Test, "/"); isSub {
				if pm, found := meta[event.Package+"."+parent]; found {
					annotations = pm
					annotations.Name = event.Test
					annotations.Purpose = pm.Purpose + " (subtest " + event.Test + ")"
				}
			}
			res = &TestResult{Name: event.Test, Package: event.Package, Annotations: annotations}
			states[key] = res
		}

		switch event.Action {
		case "pass", "fail":
			res.Status = event.Action
			res.Elapsed = event.Elapsed
		case "skip":
			res.Status = "skip"
		case "output":
			if res.Status == "fail" || res.Status == "" {
				res.Failure += event.Output
			}
		}
	}

	var list []TestResult
	for _, v := range states {
		list = append(list, *v)
	}
	return list
}

func generateSummary(results []TestResult) ReportSummary {
	summary := ReportSummary{GeneratedAt: time.Now(), Results: results}
	for _, r := range results {
		summary.Total++
		switch r.Status {
		case "pass":
			summary.Passed++
		case "fail":
			summary.Failed++
		case "skip":
			summary.Skipped++
		}
	}
	return summary
}

func saveJSON(summary ReportSummary, path string) {
	data, _ := json.MarshalIndent(summary, "", "  ")
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, data, 0644)
}

func saveMarkdown(summary ReportSummary, path string, title string) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Teamplane %s\n\n", title))
	sb.WriteString(fmt.Sprintf("**Generated:** %s  \n", summary.GeneratedAt.Format("2006-01-02 15:04:05 MST")))

	status := "PASSED"
	if summary.Failed > 0 {
		status = "FAILED"
	}
	sb.WriteString(fmt.Sprintf("**Status:** %s\n\n", status))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Total | Passed | Failed | Skipped |\n")
	sb.WriteString("|-------|--------|--------|---------|\n")
	sb.WriteString(fmt.Sprintf("| %d | %d | %d | %d |\n\n", summary.Total, summary.Passed, summary.Failed, summary.Skipped))

	byCategory := make(map[string][]TestResult)
	for _, r := range summary.Results {
		cat := r.Annotations.Category
		if cat == "" {
			cat = "Other"
		}
		byCategory[cat] = append(byCategory[cat], r)
	}

	sb.WriteString("## Test Results by Category\n\n")
	order := []string{"Credentials", "Tokens", "Subscription", "Auth Flows", "Audit", "API", "Config", "SYSTEM Tests", "E2E Tests", "Other"}
	for _, cat := range order {
		tests := byCategory[cat]
		if len(tests) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("### %s\n\n", cat))
		sb.WriteString("| ID | Test Name | Status | Purpose | Security |\n")
		sb.WriteString("|----|-----------|--------|---------|----------|\n")
		for _, t := range tests {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				t.Annotations.TestCaseID, t.Name, t.Status, t.Annotations.Purpose, t.Annotations.Security))
		}
		sb.WriteString("\n")
	}

	if summary.Failed > 0 {
		sb.WriteString("## Failure Details\n\n")
		for _, t := range summary.Results {
			if t.Status == "fail" {
				sb.WriteString(fmt.Sprintf("### %s (%s)\n```\n%s\n```\n\n", t.Name, t.Package, t.Failure))
			}
		}
	}

	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte(sb.String()), 0644)
}
