package main

// Set via -ldflags at build time; left at these defaults for local builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
