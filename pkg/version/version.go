package version

// Version represents the current version of civisearch
const Version = "1.2.0"

// RankingVersion identifies the ranking algorithm generation. Cursors embed
// this value; bumping it invalidates every cursor issued by older builds.
const RankingVersion = 2

// BuildVersion returns the version string for display
func BuildVersion() string {
	return "civisearch version " + Version
}

// APIVersion returns just the version number for API responses
func APIVersion() string {
	return Version
}
