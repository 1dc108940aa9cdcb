// Package persistence writes suite results to disk: the structured JSON
// archive consumed by the analysis pipeline, its flattened CSV projection,
// and the intermediate snapshot that makes long runs restartable.
package persistence

import (
	"encoding/json"
	"os"
	"path"

	"github.com/gocarina/gocsv"

	"github.com/castbench/castbench/pkg/model"
)

const (
	// ArchiveFile is the structured results document.
	ArchiveFile = "results.json"
	// CSVFile is the tabular projection, one row per test.
	CSVFile = "results.csv"
	// SnapshotFile is the intermediate, unsorted result list written after
	// each completed test.
	SnapshotFile = "results-partial.json"
	// ScreenshotDir holds the per-sample legibility captures.
	ScreenshotDir = "screenshots"
)

// Prepare creates the output directory layout and returns the screenshot
// directory path.
func Prepare(dir string) (string, error) {
	shots := path.Join(dir, ScreenshotDir)
	if err := os.MkdirAll(shots, 0755); err != nil {
		return "", err
	}
	return shots, nil
}

// WriteArchive writes the structured results document. Results must
// already be in their final (test id) order.
func WriteArchive(dir string, archive model.SuiteArchive) error {
	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path.Join(dir, ArchiveFile), data)
}

// ReadArchive reads a structured results document back, for verification
// and tooling.
func ReadArchive(filename string) (model.SuiteArchive, error) {
	var archive model.SuiteArchive
	data, err := os.ReadFile(filename)
	if err != nil {
		return archive, err
	}
	err = json.Unmarshal(data, &archive)
	return archive, err
}

// WriteCSV writes the flattened per-test summary rows.
func WriteCSV(dir string, results []model.TestResult) error {
	rows := make([]model.CSVRow, 0, len(results))
	for i := range results {
		rows = append(rows, results[i].ToCSVRow())
	}
	fp, err := os.Create(path.Join(dir, CSVFile))
	if err != nil {
		return err
	}
	defer fp.Close()
	return gocsv.MarshalFile(&rows, fp)
}

// WriteSnapshot persists the current (partial, completion-ordered) result
// list so an interrupted suite loses at most the test in flight. The
// snapshot is overwritten after every completed test.
func WriteSnapshot(dir string, results []model.TestResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return writeAtomic(path.Join(dir, SnapshotFile), data)
}

// writeAtomic writes via a temp file and rename so readers never observe a
// torn file.
func writeAtomic(filename string, data []byte) error {
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}
