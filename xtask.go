// Package xtask is the build, emulate and module-test driver for the
// Halogen kernel.
package xtask

// Version is the xtask release version.
const Version = "0.3.0"
