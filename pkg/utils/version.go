// Package utils holds small helpers shared by memsync commands and
// transports that do not warrant a package of their own.
package utils

// Build metadata, overridden at link time with
// -ldflags "-X github.com/papercomputeco/memsync/pkg/utils.Version=...".
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)
