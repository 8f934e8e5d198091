package backbone

import (
	"fmt"

	"github.com/banshee-data/sparsebev/internal/spconv"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

// LayersPerStage is the number of convolutions in every residual stage.
const LayersPerStage = 5

// StageSpec declares one residual stage.
type StageSpec struct {
	Name       string
	InChannels int
	Channels   int
	// Shape is the extent the stage operates at and emits.
	Shape voxel.Shape
	// Downsample makes the stage's first convolution stride 2.
	Downsample bool
}

// Architecture is the full layer schedule of a backbone.
type Architecture struct {
	Input  voxel.Shape
	Stages []StageSpec
	Final  spconv.ConvSpec
	// Output is the extent kept when the final tensor is densified.
	Output voxel.Shape
}

// Nominal returns the production schedule:
// (1440,1440,41) → (720,720,21) → (360,360,11) → (180,180,5) → (180,180,2).
func Nominal() Architecture {
	return Architecture{
		Input: voxel.Shape{1440, 1440, 41},
		Stages: []StageSpec{
			{Name: "stage1", InChannels: 5, Channels: 16, Shape: voxel.Shape{1440, 1440, 41}},
			{Name: "stage2", InChannels: 16, Channels: 32, Shape: voxel.Shape{720, 720, 21}, Downsample: true},
			{Name: "stage3", InChannels: 32, Channels: 64, Shape: voxel.Shape{360, 360, 11}, Downsample: true},
			{Name: "stage4", InChannels: 64, Channels: 128, Shape: voxel.Shape{180, 180, 5}, Downsample: true},
		},
		Final: spconv.ConvSpec{
			Name:        fmt.Sprintf("conv%d", 4*LayersPerStage),
			InChannels:  128,
			OutChannels: 128,
			Kernel:      spconv.Triple{1, 1, 3},
			Padding:     spconv.Triple{0, 0, 0},
			Stride:      spconv.Triple{1, 1, 2},
		},
		Output: voxel.Shape{180, 180, 2},
	}
}

// InputChannels returns the feature width the backbone consumes.
func (a Architecture) InputChannels() int {
	if len(a.Stages) == 0 {
		return a.Final.InChannels
	}
	return a.Stages[0].InChannels
}

// Layers lists every convolution in execution order, named conv0..convN.
func (a Architecture) Layers() []spconv.ConvSpec {
	specs := make([]spconv.ConvSpec, 0, len(a.Stages)*LayersPerStage+1)
	for _, st := range a.Stages {
		for i := 0; i < LayersPerStage; i++ {
			name := fmt.Sprintf("conv%d", len(specs))
			switch {
			case i == 0 && st.Downsample:
				specs = append(specs, spconv.Downsample(name, st.InChannels, st.Channels))
			case i == 0:
				specs = append(specs, spconv.Submanifold(name, st.InChannels, st.Channels))
			default:
				specs = append(specs, spconv.Submanifold(name, st.Channels, st.Channels))
			}
		}
	}
	return append(specs, a.Final)
}

// Validate checks that stage widths chain into each other and into the
// final layer.
func (a Architecture) Validate() error {
	if len(a.Stages) == 0 {
		return fmt.Errorf("architecture has no stages")
	}
	prev := a.Stages[0].InChannels
	for _, st := range a.Stages {
		if st.InChannels != prev {
			return fmt.Errorf("%s: consumes %d channels but previous stage emits %d", st.Name, st.InChannels, prev)
		}
		if st.Channels <= 0 {
			return fmt.Errorf("%s: channels must be positive, got %d", st.Name, st.Channels)
		}
		prev = st.Channels
	}
	if a.Final.InChannels != prev {
		return fmt.Errorf("%s: consumes %d channels but last stage emits %d", a.Final.Name, a.Final.InChannels, prev)
	}
	if a.Stages[0].Downsample {
		return fmt.Errorf("%s: first stage cannot downsample", a.Stages[0].Name)
	}
	return a.Final.Validate()
}
