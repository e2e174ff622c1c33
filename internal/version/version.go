package version

// Version is the current lingo-sync release. Overridden at build time via
// -ldflags "-X lingo-sync/internal/version.Version=...".
var Version = "dev"
