// +build tools

package tools

import (
	_ "golang.org/x/lint/golint"
)
