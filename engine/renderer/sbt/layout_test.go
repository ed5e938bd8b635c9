package sbt_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/lumen/engine/renderer/sbt"
)

var props = gpu.RayTracingProperties{
	ShaderGroupHandleSize:      32,
	ShaderGroupHandleAlignment: 32,
	ShaderGroupBaseAlignment:   64,
	MaxRayRecursionDepth:       1,
}

func TestComputeLayoutAlignment(t *testing.T) {
	cases := []struct {
		name   string
		props  gpu.RayTracingProperties
		counts sbt.Counts
		stride uint64
		raygen uint64
		hit    uint64
		miss   uint64
		total  uint64
	}{
		{"raygen only", props, sbt.Counts{}, 32, 64, 0, 0, 64},
		{"three hit groups", props, sbt.Counts{Hit: 3}, 32, 64, 128, 0, 192},
		{"hit and miss", props, sbt.Counts{Hit: 1, Miss: 2}, 32, 64, 64, 64, 192},
		{
			"padded handles",
			gpu.RayTracingProperties{ShaderGroupHandleSize: 24, ShaderGroupHandleAlignment: 16, ShaderGroupBaseAlignment: 64},
			sbt.Counts{Hit: 5, Miss: 1},
			32, 64, 192, 64, 320,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l, err := sbt.ComputeLayout(c.props, c.counts)
			if err != nil {
				t.Fatal(err)
			}
			if l.HandleStride != c.stride {
				t.Errorf("handle stride = %d, want %d", l.HandleStride, c.stride)
			}
			if l.Raygen.Size != c.raygen || l.Raygen.Stride != l.Raygen.Size {
				t.Errorf("raygen = %+v, want size %d with stride equal to size", l.Raygen, c.raygen)
			}
			if l.Hit.Size != c.hit || l.Miss.Size != c.miss {
				t.Errorf("hit/miss size = %d/%d, want %d/%d", l.Hit.Size, l.Miss.Size, c.hit, c.miss)
			}
			if l.Size != c.total {
				t.Errorf("total = %d, want %d", l.Size, c.total)
			}
			for _, r := range []sbt.Region{l.Raygen, l.Hit, l.Miss, l.Callable} {
				if r.Offset%uint64(c.props.ShaderGroupBaseAlignment) != 0 {
					t.Errorf("region %+v is not base aligned", r)
				}
			}
			if l.Callable != (sbt.Region{}) {
				t.Errorf("callable region without groups must be zero, got %+v", l.Callable)
			}
		})
	}
}

func TestComputeLayoutRejectsBadAlignment(t *testing.T) {
	bad := props
	bad.ShaderGroupBaseAlignment = 48
	if _, err := sbt.ComputeLayout(bad, sbt.Counts{Hit: 1}); !errors.Is(err, sbt.ErrBadAlignment) {
		t.Fatalf("expected ErrBadAlignment, got %v", err)
	}
}

func TestPackAdvancesByStride(t *testing.T) {
	p := gpu.RayTracingProperties{ShaderGroupHandleSize: 16, ShaderGroupHandleAlignment: 32, ShaderGroupBaseAlignment: 64}
	l, err := sbt.ComputeLayout(p, sbt.Counts{Hit: 2, Miss: 1})
	if err != nil {
		t.Fatal(err)
	}
	var handles []byte
	for g := uint32(0); g < l.GroupCount(); g++ {
		handles = append(handles, gputest.HandleFor(g, 16)...)
	}
	out, err := l.Pack(handles)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(out)) != l.Size {
		t.Fatalf("packed %d bytes, layout size %d", len(out), l.Size)
	}
	expect := []struct {
		offset uint64
		group  uint32
	}{
		{l.Raygen.Offset, 0},
		{l.Hit.Offset, 1},
		{l.Hit.Offset + 32, 2},
		{l.Miss.Offset, 3},
	}
	for _, e := range expect {
		if got := out[e.offset : e.offset+16]; !bytes.Equal(got, gputest.HandleFor(e.group, 16)) {
			t.Errorf("group %d at offset %d: got %v", e.group, e.offset, got)
		}
		// padding after the handle stays zero
		if pad := out[e.offset+16 : e.offset+32]; !bytes.Equal(pad, make([]byte, 16)) {
			t.Errorf("group %d padding is not zero", e.group)
		}
	}

	if _, err := l.Pack(handles[:len(handles)-1]); !errors.Is(err, sbt.ErrHandleMismatch) {
		t.Fatalf("expected ErrHandleMismatch, got %v", err)
	}
}

func TestBuildTable(t *testing.T) {
	dev := gputest.NewDevice(gputest.WithRayTracingProperties(props))
	code := make([]byte, 16)
	var modules []gpu.ShaderModuleID
	for i := 0; i < 3; i++ {
		m, err := dev.CreateShaderModule(code)
		if err != nil {
			t.Fatal(err)
		}
		modules = append(modules, m)
	}
	layout, err := dev.CreatePipelineLayout(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	pipeline, err := dev.CreateRayTracingPipeline(&gpu.RayTracingPipelineDesc{
		Layout: layout,
		Stages: []gpu.ShaderStageDesc{
			{Stage: gpu.ShaderStageRaygen, Module: modules[0], Entry: "main"},
			{Stage: gpu.ShaderStageClosestHit, Module: modules[1], Entry: "main"},
			{Stage: gpu.ShaderStageMiss, Module: modules[2], Entry: "main"},
		},
		Groups: []gpu.ShaderGroup{
			{Type: gpu.ShaderGroupGeneral, General: 0, ClosestHit: gpu.ShaderUnused, AnyHit: gpu.ShaderUnused, Intersection: gpu.ShaderUnused},
			{Type: gpu.ShaderGroupTrianglesHit, General: gpu.ShaderUnused, ClosestHit: 1, AnyHit: gpu.ShaderUnused, Intersection: gpu.ShaderUnused},
			{Type: gpu.ShaderGroupGeneral, General: 2, ClosestHit: gpu.ShaderUnused, AnyHit: gpu.ShaderUnused, Intersection: gpu.ShaderUnused},
		},
		MaxRecursionDepth: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	table, err := sbt.Build(dev, pipeline, sbt.Counts{Hit: 1, Miss: 1})
	if err != nil {
		t.Fatal(err)
	}
	r := table.Regions
	if r.Raygen.Size != 64 || r.Raygen.Stride != 64 {
		t.Errorf("raygen region = %+v", r.Raygen)
	}
	if r.Hit.DeviceAddress != r.Raygen.DeviceAddress+64 || r.Miss.DeviceAddress != r.Hit.DeviceAddress+64 {
		t.Errorf("regions are not contiguous: %+v", r)
	}
	if r.Callable != (gpu.StridedRegion{}) {
		t.Errorf("callable = %+v, want zero", r.Callable)
	}
	contents, err := dev.BufferContents(table.Buffer)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(contents[64:96], gputest.HandleFor(1, 32)) {
		t.Error("hit group handle not at the start of the hit region")
	}

	if _, err := sbt.Build(dev, pipeline, sbt.Counts{Hit: 2, Miss: 1}); err == nil {
		t.Error("asking for more groups than the pipeline has must fail")
	}

	table.Destroy(dev)
	table.Destroy(dev)
	if errs := dev.ValidationErrors(); len(errs) > 0 {
		t.Fatalf("validation errors: %v", errs)
	}
}
