//go:build tools

// Пакет tools фиксирует версии генераторов в go.mod.
// Моки репозиториев пересобираются командой `go generate ./internal/domain/...`.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
