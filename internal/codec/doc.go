// Package codec reads and writes the solver's file formats: .TOP terrain
// grids, .QGIS_res results, DAT parameter files and .PTS release points,
// plus netCDF export of results. Every write goes through WriteAtomic.
package codec
