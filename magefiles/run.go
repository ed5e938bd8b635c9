//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed with config.toml.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	return goCmd("run", ".", "-config", "config.toml")
}

type Test mg.Namespace

// Runs every package test.
func (Test) All() error {
	return goCmd("test", "./...")
}

// Runs the tests that need no GPU, window system or cgo toolchain.
func (Test) Core() error {
	return goCmd("test",
		"./engine/config/...",
		"./engine/containers/...",
		"./engine/core/...",
		"./engine/renderer/gpu/...",
		"./engine/renderer/transfer/...",
		"./engine/renderer/accel/...",
		"./engine/renderer/sbt/...",
		"./engine/renderer/descriptors/...",
		"./engine/renderer/uniform/...",
		"./engine/renderer/frame/...",
		"./engine/renderer/raster/...",
		"./engine/renderer/raytrace/...",
	)
}
