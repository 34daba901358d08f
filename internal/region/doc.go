// Package region maps region names onto their directory trees under the
// project root.
//
// A region named "north" owns <root>/north/ with an images directory, a
// sparse output directory, and the colmap database file. The images directory
// is the sole existence marker: a region whose images directory was removed
// is treated as absent even if other paths remain.
package region
