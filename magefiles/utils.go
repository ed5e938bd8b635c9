//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/sh"
)

// goCmd runs the go tool with its output streamed.
func goCmd(args ...string) error {
	return sh.RunV("go", args...)
}

// compileShader compiles one GLSL source in dir into a sibling .spv file.
func compileShader(dir, src string) error {
	in := filepath.Join(dir, src)
	// The ray tracing stages need the Vulkan 1.2 target.
	return sh.RunV("glslc", "--target-env=vulkan1.2", in, "-o", in+".spv")
}
