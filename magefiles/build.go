//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

var shaderSources = []string{
	"raster.vert",
	"raster.frag",
	"raytrace.rgen",
	"raytrace.rmiss",
	"raytrace.rchit",
}

// Compiles every GLSL shader under assets/shaders to SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and builds the engine binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if err := os.MkdirAll("bin", 0o755); err != nil {
		return err
	}
	return goCmd("build", "-o", filepath.Join("bin", "lumen"), ".")
}

// Runs go mod tidy.
func (Build) Tidy() error {
	return goCmd("mod", "tidy")
}

func buildShaders() error {
	for _, src := range shaderSources {
		if err := compileShader(shaderDir, src); err != nil {
			return fmt.Errorf("shader %s: %w", src, err)
		}
	}
	return nil
}
