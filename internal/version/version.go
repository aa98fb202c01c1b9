// Package version exposes build metadata injected via ldflags, e.g.
//
//	go build -ldflags "-X github.com/tablekit/schemahub/internal/version.Version=1.2.0 \
//	                   -X github.com/tablekit/schemahub/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

var (
	// Version is the semantic release version.
	Version = "dev"

	// Commit is the short git commit hash.
	Commit = "unknown"
)

// String formats the version for logs and the health endpoint.
func String() string {
	return Version + " (" + Commit + ")"
}
