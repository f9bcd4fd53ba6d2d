package tendril

// Version is the release of the library and the tendril binary.
// It is overridden at build time with -ldflags "-X github.com/aretw0/tendril.Version=...".
var Version = "0.1.0-dev"
