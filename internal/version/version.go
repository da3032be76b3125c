// ABOUTME: Version and product identification constants
// ABOUTME: Reported by the HTTP host endpoint, the hello event and the CLI
package version

const (
	// Version is the BreezeBeats release version
	Version = "0.2.0"

	// Product is the short product name used in logs and mDNS records
	Product = "BreezeBeats"

	// Title is the application title shown by UI clients
	Title = "AutoBreezeBeats"
)
