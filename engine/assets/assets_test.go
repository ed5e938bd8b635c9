package assets_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/core"
)

func spirv() []byte {
	return binary.LittleEndian.AppendUint32(nil, 0x07230203)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "shaders", "b.spv"), spirv())
	writeFile(t, filepath.Join(root, "shaders", "a.spv"), spirv())
	writeFile(t, filepath.Join(root, "models", "tri.obj"), []byte("o tri\nv 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"))
	writeFile(t, filepath.Join(root, "README.txt"), []byte("ignored"))
	return root
}

func TestIndex(t *testing.T) {
	am, err := assets.NewAssetManager(newTree(t))
	if err != nil {
		t.Fatal(err)
	}
	defer am.Close()

	if am.Len() != 3 {
		t.Fatalf("indexed %d assets, want 3", am.Len())
	}
	shaders := am.List(assets.TypeShader)
	if len(shaders) != 2 || shaders[0].Path != "shaders/a.spv" || shaders[1].Path != "shaders/b.spv" {
		t.Fatalf("shaders = %+v", shaders)
	}
	info, ok := am.Get("models/tri.obj")
	if !ok || info.Type != assets.TypeModel {
		t.Fatalf("model = %+v, %v", info, ok)
	}
	if _, ok := am.Get("README.txt"); ok {
		t.Fatal("unknown extension indexed")
	}
}

func TestIDsAreStable(t *testing.T) {
	root := newTree(t)
	a, err := assets.NewAssetManager(root)
	if err != nil {
		t.Fatal(err)
	}
	b, err := assets.NewAssetManager(root)
	if err != nil {
		t.Fatal(err)
	}
	x, _ := a.Get("shaders/a.spv")
	y, _ := b.Get("shaders/a.spv")
	z, _ := b.Get("shaders/b.spv")
	if x.ID != y.ID || x.ID == z.ID {
		t.Fatalf("ids %s %s %s", x.ID, y.ID, z.ID)
	}
}

func TestTypedLoads(t *testing.T) {
	root := newTree(t)
	am, err := assets.NewAssetManager(root)
	if err != nil {
		t.Fatal(err)
	}
	if code, err := am.LoadShader("shaders/a.spv"); err != nil || len(code) != 4 {
		t.Fatalf("shader = %v, %v", code, err)
	}
	m, err := am.LoadModel("models/tri.obj")
	if err != nil || len(m.Indices) != 3 {
		t.Fatalf("model = %+v, %v", m, err)
	}
	if _, err := am.LoadImage("models/tri.obj"); err == nil {
		t.Fatal("model loaded as image")
	}
	if _, err := am.Load("shaders/missing.spv"); err == nil {
		t.Fatal("missing asset loaded")
	}

	// Files created after the scan are indexed on load.
	writeFile(t, filepath.Join(root, "shaders", "late.spv"), spirv())
	if _, err := am.LoadShader("shaders/late.spv"); err != nil {
		t.Fatal(err)
	}
	if _, ok := am.Get("shaders/late.spv"); !ok {
		t.Fatal("late file not indexed")
	}
}

func TestWatchFiresAssetChanged(t *testing.T) {
	core.EventInitialize()
	t.Cleanup(func() { _ = core.EventShutdown() })

	changed := make(chan assets.Type, 16)
	listener := new(int)
	core.EventRegister(core.EVENT_CODE_ASSET_CHANGED, listener, func(code core.SystemEventCode, sender, l interface{}, data core.EventContext) bool {
		changed <- assets.Type(data.Data.U8[0])
		return true
	})

	root := newTree(t)
	am, err := assets.NewAssetManager(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := am.Watch(); err != nil {
		t.Fatal(err)
	}
	defer am.Close()

	writeFile(t, filepath.Join(root, "shaders", "c.spv"), spirv())
	select {
	case typ := <-changed:
		if typ != assets.TypeShader {
			t.Fatalf("changed type = %s", typ)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change event")
	}

	if err := os.Remove(filepath.Join(root, "shaders", "a.spv")); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := am.Get("shaders/a.spv"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("removed file still indexed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
