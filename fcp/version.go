package fcp

// Protocol version reported to clients through the version query.
const (
	VersionMajor    = 2
	VersionMinor    = 0
	VersionSubminor = 0

	Version = VersionMajor<<16 | VersionMinor<<8 | VersionSubminor
)

func VersionMajorOf(v uint32) uint8    { return uint8(v >> 16) }
func VersionMinorOf(v uint32) uint8    { return uint8(v >> 8) }
func VersionSubminorOf(v uint32) uint8 { return uint8(v) }
