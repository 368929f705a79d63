// Package testutil provides shared test infrastructure for the droplet engine.
// It holds the golden protocol dataset types and assertion helpers.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/puddle-lab/puddle/sim"
)

// GoldenDataset represents the structure of testdata/goldendataset.json.
type GoldenDataset struct {
	Protocols []GoldenProtocol `json:"protocols"`
}

// GoldenProtocol is one script run on a fresh board and the state it must end in.
type GoldenProtocol struct {
	Name   string `json:"name"`
	Script string `json:"script"`          // relative to testdata/
	Board  string `json:"board,omitempty"` // relative to testdata/; empty means a Rows x Cols rectangle
	Rows   int    `json:"rows,omitempty"`
	Cols   int    `json:"cols,omitempty"`

	Steps    map[string]int    `json:"steps"`    // completed steps per process
	Droplets []sim.DropletInfo `json:"droplets"` // final droplets, sorted by id
	Effects  []string          `json:"effects"`  // finalize-time effect kinds, in order
}

// TestdataPath resolves name against the repository testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func TestdataPath(t *testing.T, name string) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", name)
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()
	data, err := os.ReadFile(TestdataPath(t, "goldendataset.json"))
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	return &dataset
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertDroplets compares final droplet state, volumes within relTol.
func AssertDroplets(t *testing.T, want, got []sim.DropletInfo, relTol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("droplets: got %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if want[i].ID != got[i].ID {
			t.Errorf("droplet %d: id %v, want %v", i, got[i].ID, want[i].ID)
		}
		if want[i].Location != got[i].Location {
			t.Errorf("droplet %v: location %v, want %v", want[i].ID, got[i].Location, want[i].Location)
		}
		if want[i].Dimensions != got[i].Dimensions {
			t.Errorf("droplet %v: dimensions %v, want %v", want[i].ID, got[i].Dimensions, want[i].Dimensions)
		}
		AssertFloat64Equal(t, want[i].ID.String()+" volume", want[i].Volume, got[i].Volume, relTol)
	}
}
