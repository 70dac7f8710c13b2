package internal

import (
	"runtime/debug"
	"strings"
)

const (
	_moduleName     = "github.com/luizaranda/courier"
	_unknownVersion = "v0.0.0-unknown"
)

var (
	// Version is the module version as recorded in the importing binary's
	// build info. Binaries built outside module mode report v0.0.0-unknown.
	Version = func() string {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, dep := range bi.Deps {
				if strings.EqualFold(dep.Path, _moduleName) {
					return dep.Version
				}
			}
		}

		return _unknownVersion
	}()
)
