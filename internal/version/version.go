// Package version reports the Overlay Engine release.
package version

// Version is the current release. Override at build time with:
//
//	go build -ldflags "-X github.com/AaronLay10/OverlayEngine/internal/version.Version=x.y.z"
var Version = "0.3.0"
