// Package imageprocessor decodes source images, computes their perceptual
// hashes and re-encodes admitted images into the output format.
package imageprocessor
