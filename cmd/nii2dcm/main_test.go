package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/Onset-lab/nii2dcm/internal/geometry"
	"github.com/Onset-lab/nii2dcm/internal/volume"
)

// testContext holds state for a single scenario
type testContext struct {
	tmpDir   string
	exitCode int
	output   string
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func InitializeScenario(sc *godog.ScenarioContext) {
	tc := &testContext{}

	sc.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tmpDir, err := os.MkdirTemp("", "nii2dcm-e2e-*")
		if err != nil {
			return ctx, err
		}
		tc.tmpDir = tmpDir
		return ctx, nil
	})

	sc.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if tc.tmpDir != "" {
			os.RemoveAll(tc.tmpDir)
		}
		return ctx, nil
	})

	sc.Step(`^a NIfTI volume "([^"]*)" of (\d+)x(\d+)x(\d+) voxels with spacing (\d+)x(\d+)x(\d+)$`, tc.aNiftiVolume)
	sc.Step(`^a 4D NIfTI volume "([^"]*)" of (\d+)x(\d+)x(\d+) voxels and (\d+) frames$`, tc.a4DNiftiVolume)
	sc.Step(`^I run nii2dcm with "([^"]*)"$`, tc.iRunNii2dcmWith)
	sc.Step(`^the exit code should be (\d+)$`, tc.theExitCodeShouldBe)
	sc.Step(`^the output should contain "([^"]*)"$`, tc.theOutputShouldContain)
	sc.Step(`^"([^"]*)" should contain (\d+) DICOM files$`, tc.shouldContainDICOMFiles)
	sc.Step(`^"([^"]*)" should exist$`, tc.shouldExist)
	sc.Step(`^"([^"]*)" should not exist$`, tc.shouldNotExist)
	sc.Step(`^"([^"]*)" should have patient/study/series hierarchy$`, tc.shouldHaveHierarchy)
	sc.Step(`^the instance numbers in "([^"]*)" should be 1 to (\d+)$`, tc.instanceNumbersShouldBe)
	sc.Step(`^the image positions in "([^"]*)" should be "([^"]*)"$`, tc.imagePositionsShouldBe)
	sc.Step(`^all files in "([^"]*)" should share one StudyInstanceUID$`, tc.shouldShareStudy)
}

func (tc *testContext) path(p string) string {
	return strings.ReplaceAll(p, "{tmpdir}", tc.tmpDir)
}

func (tc *testContext) aNiftiVolume(name string, nx, ny, nz, sx, sy, sz int) error {
	affine := geometry.DiagonalAffine([3]float64{float64(sx), float64(sy), float64(sz)}, [3]float64{})
	return writeFixture(filepath.Join(tc.tmpDir, name), [4]int{nx, ny, nz, 1}, affine)
}

func (tc *testContext) a4DNiftiVolume(name string, nx, ny, nz, nt int) error {
	affine := geometry.DiagonalAffine([3]float64{1, 1, 1}, [3]float64{})
	return writeFixture(filepath.Join(tc.tmpDir, name), [4]int{nx, ny, nz, nt}, affine)
}

// writeFixture writes a float32 NIfTI file holding a ramp of sample values.
func writeFixture(path string, dims [4]int, affine geometry.Affine) error {
	n := dims[0] * dims[1] * dims[2] * max(dims[3], 1)
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i % 1000)
	}
	return volume.WriteFile(path, dims, data, affine, volume.Encoding{})
}

func (tc *testContext) iRunNii2dcmWith(args string) error {
	tc.exitCode, tc.output = runCLI(splitArgs(tc.path(args))...)
	return nil
}

// runCLI executes the root command in-process the way main does.
func runCLI(args ...string) (int, string) {
	var output bytes.Buffer
	root := newRoot("test")
	root.SetArgs(args)
	root.SetOut(&output)
	root.SetErr(&output)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(&output, "Error: %v\n", err)
		return 1, output.String()
	}
	return 0, output.String()
}

func (tc *testContext) theExitCodeShouldBe(expected int) error {
	if tc.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nOutput:\n%s", expected, tc.exitCode, tc.output)
	}
	return nil
}

func (tc *testContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(tc.output, expected) {
		return fmt.Errorf("output does not contain %q\nOutput:\n%s", expected, tc.output)
	}
	return nil
}

func (tc *testContext) shouldContainDICOMFiles(path string, count int) error {
	files, err := findDICOMFiles(tc.path(path))
	if err != nil {
		return fmt.Errorf("failed to find DICOM files: %w", err)
	}
	if len(files) != count {
		return fmt.Errorf("expected %d DICOM files, found %d", count, len(files))
	}
	return nil
}

func (tc *testContext) shouldExist(path string) error {
	if _, err := os.Stat(tc.path(path)); os.IsNotExist(err) {
		return fmt.Errorf("path does not exist: %s", path)
	}
	return nil
}

func (tc *testContext) shouldNotExist(path string) error {
	if _, err := os.Stat(tc.path(path)); !os.IsNotExist(err) {
		return fmt.Errorf("path exists: %s", path)
	}
	return nil
}

func (tc *testContext) shouldHaveHierarchy(path string) error {
	path = tc.path(path)
	ptDirs, err := filepath.Glob(filepath.Join(path, "PT*"))
	if err != nil || len(ptDirs) == 0 {
		return fmt.Errorf("no patient directories (PT*) found in %s", path)
	}
	for _, ptDir := range ptDirs {
		stDirs, err := filepath.Glob(filepath.Join(ptDir, "ST*"))
		if err != nil || len(stDirs) == 0 {
			return fmt.Errorf("no study directories (ST*) found in %s", ptDir)
		}
		for _, stDir := range stDirs {
			seDirs, err := filepath.Glob(filepath.Join(stDir, "SE*"))
			if err != nil || len(seDirs) == 0 {
				return fmt.Errorf("no series directories (SE*) found in %s", stDir)
			}
		}
	}
	return nil
}

// parsedFile is the subset of a written file the steps check.
type parsedFile struct {
	instance int
	position string
	study    string
}

func parseDir(root string) ([]parsedFile, error) {
	files, err := findDICOMFiles(root)
	if err != nil {
		return nil, err
	}
	var out []parsedFile
	for _, f := range files {
		ds, err := dicom.ParseFile(f, nil, dicom.SkipPixelData())
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f, err)
		}
		instance, err := strconv.Atoi(elementString(ds, tag.InstanceNumber))
		if err != nil {
			return nil, fmt.Errorf("%s: bad InstanceNumber: %w", f, err)
		}
		out = append(out, parsedFile{
			instance: instance,
			position: elementString(ds, tag.ImagePositionPatient),
			study:    elementString(ds, tag.StudyInstanceUID),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].instance < out[j].instance })
	return out, nil
}

func elementString(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	return strings.Trim(elem.Value.String(), " []\x00")
}

func (tc *testContext) instanceNumbersShouldBe(path string, n int) error {
	files, err := parseDir(tc.path(path))
	if err != nil {
		return err
	}
	if len(files) != n {
		return fmt.Errorf("expected %d files, found %d", n, len(files))
	}
	for i, f := range files {
		if f.instance != i+1 {
			return fmt.Errorf("expected instance %d, got %d", i+1, f.instance)
		}
	}
	return nil
}

func (tc *testContext) imagePositionsShouldBe(path, want string) error {
	files, err := parseDir(tc.path(path))
	if err != nil {
		return err
	}
	positions := strings.Split(want, ";")
	if len(files) != len(positions) {
		return fmt.Errorf("expected %d files, found %d", len(positions), len(files))
	}
	for i, f := range files {
		if f.position != positions[i] {
			return fmt.Errorf("instance %d: expected position %q, got %q", f.instance, positions[i], f.position)
		}
	}
	return nil
}

func (tc *testContext) shouldShareStudy(path string) error {
	files, err := parseDir(tc.path(path))
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.study == "" || f.study != files[0].study {
			return fmt.Errorf("StudyInstanceUID differs: %q vs %q", f.study, files[0].study)
		}
	}
	return nil
}

// findDICOMFiles finds all DICOM image files (IM*) recursively
func findDICOMFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasPrefix(info.Name(), "IM") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// splitArgs splits a command line string into arguments
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuote := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}
