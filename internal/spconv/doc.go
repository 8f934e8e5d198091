// Package spconv implements sparse 3D convolution by direct enumeration of
// the kernel window around every active input voxel.
//
// Each input voxel scatters one contribution per kernel offset whose
// projected output coordinate lands inside the output shape; contributions
// landing on the same output coordinate are summed before the tensor is
// returned. Padding is implicit: no zero voxels are materialised.
//
// Key types: ConvSpec (immutable layer record), KernelWeights, Layer.
package spconv
