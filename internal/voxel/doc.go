// Package voxel owns the sparse voxel tensor used throughout the backbone.
//
// A Tensor is a coordinate table (z, y, x) with one fixed-length float32
// feature row per coordinate, plus the declared spatial extent every
// coordinate lies within. Tensors are never mutated once built: every
// operator in this package returns a fresh Tensor.
//
// Key types: Shape, Coord, Tensor, Accumulator.
package voxel
