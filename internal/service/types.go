// Package service assembles vector tiles from datasources and manages the
// archives the seeder writes.
package service

// ArchiveFile describes a PMTiles archive.
type ArchiveFile struct {
	Name    string `json:"name" doc:"Archive file name" example:"streets.pmtiles"`
	Size    string `json:"size" doc:"Human-readable file size" example:"5.4 MB"`
	Bytes   int64  `json:"bytes" doc:"File size in bytes"`
	MinZoom uint8  `json:"minZoom" doc:"Lowest zoom level in the archive"`
	MaxZoom uint8  `json:"maxZoom" doc:"Highest zoom level in the archive"`
	Tiles   uint64 `json:"tiles" doc:"Number of addressed tiles"`
}
