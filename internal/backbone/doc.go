// Package backbone runs the fixed-topology residual voxel backbone.
//
// Four residual stages of five sparse convolutions each progressively
// downsample the voxel grid, then a final strided 1×1×3 layer collapses
// the vertical axis. Every call to Backbone.Forward is a pure function of
// its input tensor: layers are immutable and no tensor outlives the call.
//
// Key types: Architecture, StageSpec, Stage, Backbone, Trace.
package backbone
