package sqlcoord

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// Version is the current version of the session/transaction coordination core.
var Version = strings.TrimSpace(versionFile)
