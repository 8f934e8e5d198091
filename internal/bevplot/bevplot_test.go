package bevplot

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/sparsebev/internal/densify"
)

// sampleBEV has two channels over a 3x4 plane.
func sampleBEV() *densify.BEV {
	b := &densify.BEV{Channels: 2, Rows: 3, Cols: 4, Data: make([]float32, 2*3*4)}
	b.Data[0*12+1*4+2] = 2   // ch0 r1 c2
	b.Data[1*12+1*4+2] = -3  // ch1 r1 c2
	b.Data[1*12+2*4+0] = 0.5 // ch1 r2 c0
	return b
}

func TestOccupancy(t *testing.T) {
	g := Occupancy(sampleBEV())
	if c, r := g.Dims(); c != 4 || r != 3 {
		t.Fatalf("Dims() = (%d, %d), want (4, 3)", c, r)
	}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"Z(2,1)", g.Z(2, 1), 5},
		{"Z(0,2)", g.Z(0, 2), 0.5},
		{"Z(3,0)", g.Z(3, 0), 0},
		{"Max", g.Max(), 5},
		{"Min", g.Min(), 0},
		{"X(3)", g.X(3), 3},
		{"Y(2)", g.Y(2), 2},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if n := g.NonZero(); n != 2 {
		t.Errorf("NonZero() = %d, want 2", n)
	}
}

func TestChannel(t *testing.T) {
	tests := []struct {
		ch      int
		z21     float64
		min     float64
		wantErr bool
	}{
		{ch: 0, z21: 2, min: 0},
		{ch: 1, z21: -3, min: -3},
		{ch: 2, wantErr: true},
		{ch: -1, wantErr: true},
	}
	for _, tt := range tests {
		g, err := Channel(sampleBEV(), tt.ch)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Channel(%d) succeeded, want error", tt.ch)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Channel(%d): %v", tt.ch, err)
		}
		if got := g.Z(2, 1); got != tt.z21 {
			t.Errorf("Channel(%d).Z(2, 1) = %v, want %v", tt.ch, got, tt.z21)
		}
		if got := g.Min(); got != tt.min {
			t.Errorf("Channel(%d).Min() = %v, want %v", tt.ch, got, tt.min)
		}
	}
}

func TestSavePNG(t *testing.T) {
	dir := t.TempDir()
	signed, err := Channel(sampleBEV(), 1)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		grid *Grid
	}{
		{"occupancy", Occupancy(sampleBEV())},
		{"signed channel", signed},
		{"all zero", Occupancy(&densify.BEV{Channels: 1, Rows: 5, Cols: 5, Data: make([]float32, 25)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".png")
			if err := SavePNG(path, tt.grid, tt.name); err != nil {
				t.Fatalf("SavePNG: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.HasPrefix(data, []byte("\x89PNG")) {
				t.Errorf("%s is not a PNG file", path)
			}
		})
	}
}

func TestSavePNG_EmptyGrid(t *testing.T) {
	if err := SavePNG(filepath.Join(t.TempDir(), "x.png"), &Grid{}, "empty"); err == nil {
		t.Error("SavePNG succeeded on an empty grid")
	}
}

func TestRenderHTML(t *testing.T) {
	signed, err := Channel(sampleBEV(), 1)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		grid     *Grid
		title    string
		subtitle string
		want     []string
	}{
		{"occupancy", Occupancy(sampleBEV()), "BEV occupancy", "seed=42", []string{"BEV occupancy", "heatmap", "seed=42", `"max":5`}},
		{"signed channel", signed, "BEV channel 1", "", []string{"BEV channel 1", `"min":-3`, `"max":0.5`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := RenderHTML(&buf, tt.grid, tt.title, tt.subtitle, 1); err != nil {
				t.Fatalf("RenderHTML: %v", err)
			}
			html := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(html, s) {
					t.Errorf("output does not contain %q", s)
				}
			}
		})
	}
}

func TestRenderHTML_Stride(t *testing.T) {
	b := &densify.BEV{Channels: 1, Rows: 10, Cols: 10, Data: make([]float32, 100)}
	for i := range b.Data {
		b.Data[i] = 1
	}
	var full, sparse bytes.Buffer
	if err := RenderHTML(&full, Occupancy(b), "full", "", 0); err != nil {
		t.Fatal(err)
	}
	if err := RenderHTML(&sparse, Occupancy(b), "sparse", "", 5); err != nil {
		t.Fatal(err)
	}
	if sparse.Len() >= full.Len() {
		t.Errorf("stride 5 output is %d bytes, stride 1 is %d", sparse.Len(), full.Len())
	}
}
