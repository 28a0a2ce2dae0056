//go:build tools

package tools

import (
	_ "github.com/golang/mock/mockgen"
	_ "golang.org/x/lint/golint"
	_ "golang.org/x/tools/cmd/stringer"
)
