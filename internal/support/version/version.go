// Package version хранит имя и версию сборки. Version перезаписывается через -ldflags.
package version

var (
	Name    = "botpanel"
	Version = "0.1.0"
)
