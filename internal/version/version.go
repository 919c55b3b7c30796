package version

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the service current released version.
// This value can be overridden at build time using ldflags:
//
//	go build -ldflags "-X github.com/JohnV2002/Finja-AI-Ecosystem/internal/version.Version=1.0.0"
var Version = "0.0.0-dev"

// DevVersion is the service current development version.
var DevVersion = Version

// RecordFormat is the version of the persisted per-user record layout.
// Bump the major component when older binaries can no longer read new records.
const RecordFormat = "1.0.0"

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// IsRecordCompatible reports whether a record written with format v can be read.
// An empty format predates versioning and is treated as 1.0.0.
func IsRecordCompatible(v string) bool {
	if v == "" {
		return true
	}
	cv := canonical(v)
	if !semver.IsValid(cv) {
		return false
	}
	return semver.Major(cv) == semver.Major(canonical(RecordFormat))
}
