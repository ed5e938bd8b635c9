package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
)

type Type uint8

const (
	TypeNone Type = iota
	TypeShader
	TypeImage
	TypeModel
)

func (t Type) String() string {
	switch t {
	case TypeShader:
		return "shader"
	case TypeImage:
		return "image"
	case TypeModel:
		return "model"
	}
	return "none"
}

// AssetInfo is one indexed file. Path is slash separated and relative to the
// asset root. The ID is derived from the path, so it is stable across runs.
type AssetInfo struct {
	ID       uuid.UUID
	Path     string
	Type     Type
	Modified time.Time
}

// AssetManager indexes the files under a root directory and loads them with
// the loader registered for their type. With Watch the index follows the
// file system.
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[Type]Loader

	mutex sync.RWMutex

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

func NewAssetManager(root string) (*AssetManager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	am := &AssetManager{
		root:    abs,
		assets:  make(map[string]AssetInfo),
		loaders: make(map[Type]Loader),
	}
	am.registerLoader(TypeShader, &loaders.ShaderLoader{})
	am.registerLoader(TypeImage, &loaders.ImageLoader{})
	am.registerLoader(TypeModel, &loaders.ModelLoader{})

	if err := am.scan(); err != nil {
		return nil, err
	}
	core.Logger().Info("assets indexed", "root", abs, "count", am.Len())
	return am, nil
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType Type, loader Loader) {
	am.loaders[assetType] = loader
}

func (am *AssetManager) scan() error {
	return filepath.WalkDir(am.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			am.handleFileEvent(path)
		}
		return nil
	})
}

// Root is the absolute asset directory.
func (am *AssetManager) Root() string {
	return am.root
}

func (am *AssetManager) Len() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

// Get returns the index entry of a root relative path.
func (am *AssetManager) Get(path string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	a, ok := am.assets[filepath.ToSlash(filepath.Clean(path))]
	return a, ok
}

// List returns the indexed assets of type t ordered by path.
func (am *AssetManager) List(t Type) []AssetInfo {
	am.mutex.RLock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		if a.Type == t {
			out = append(out, a)
		}
	}
	am.mutex.RUnlock()
	slices.SortFunc(out, func(a, b AssetInfo) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// Load reads a root relative path with the loader of its type. Files that
// appeared after the last scan are indexed on the way.
func (am *AssetManager) Load(path string) (any, error) {
	full := filepath.Join(am.root, path)
	if _, ok := am.Get(path); !ok {
		if _, err := os.Stat(full); err != nil {
			return nil, fmt.Errorf("asset not found: %s", path)
		}
		am.handleFileEvent(full)
	}
	asset, ok := am.Get(path)
	if !ok {
		return nil, fmt.Errorf("asset %s has no known type", path)
	}
	loader, ok := am.loaders[asset.Type]
	if !ok {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	start := time.Now()
	data, err := loader.Load(full)
	if err != nil {
		return nil, err
	}
	core.Logger().Debug("asset loaded", "path", asset.Path, "id", asset.ID, "took", time.Since(start))
	return data, nil
}

func (am *AssetManager) LoadShader(path string) ([]byte, error) {
	data, err := am.Load(path)
	if err != nil {
		return nil, err
	}
	code, ok := data.([]byte)
	if !ok {
		return nil, fmt.Errorf("%s is not a shader", path)
	}
	return code, nil
}

func (am *AssetManager) LoadImage(path string) (*loaders.Image, error) {
	data, err := am.Load(path)
	if err != nil {
		return nil, err
	}
	img, ok := data.(*loaders.Image)
	if !ok {
		return nil, fmt.Errorf("%s is not an image", path)
	}
	return img, nil
}

func (am *AssetManager) LoadModel(path string) (*loaders.Model, error) {
	data, err := am.Load(path)
	if err != nil {
		return nil, err
	}
	m, ok := data.(*loaders.Model)
	if !ok {
		return nil, fmt.Errorf("%s is not a model", path)
	}
	return m, nil
}

// Watch keeps the index in sync with the file system until Close. Every
// change of an indexed file fires EVENT_CODE_ASSET_CHANGED from the watcher
// goroutine.
func (am *AssetManager) Watch() error {
	if am.closed {
		return errors.New("asset manager already closed")
	}
	if am.fsnotify != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	am.fsnotify = w
	am.done = make(chan struct{})
	if err := am.watchRecursive(am.root); err != nil {
		w.Close()
		am.fsnotify = nil
		return err
	}
	am.wg.Add(1)
	go am.start()
	return nil
}

// Close stops the watcher, if any, and waits for it to exit.
func (am *AssetManager) Close() error {
	if am.closed {
		return nil
	}
	am.closed = true
	if am.fsnotify == nil {
		return nil
	}
	close(am.done)
	am.wg.Wait()
	return am.fsnotify.Close()
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleWatchEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			return
		}
	}
}

func (am *AssetManager) handleWatchEvent(e fsnotify.Event) {
	if e.Op&fsnotify.Create != 0 {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := am.watchRecursive(e.Name); err != nil {
				core.LogWarn("asset watcher: %s", err)
			}
			return
		}
	}
	var info AssetInfo
	switch {
	case e.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info = am.handleFileEvent(e.Name)
	case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		info = am.removeAsset(e.Name)
	default:
		return
	}
	if info.Type == TypeNone {
		return
	}
	core.Logger().Debug("asset changed", "path", info.Path, "op", e.Op.String())
	ctx := core.EventContext{}
	ctx.Data.U8[0] = uint8(info.Type)
	core.EventFire(core.EVENT_CODE_ASSET_CHANGED, am, ctx)
}

// watchRecursive adds path and every directory below it to the watch list.
// Files created before the watch is in place are picked up by the walk.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

func (am *AssetManager) relative(path string) (string, bool) {
	rel, err := filepath.Rel(am.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) AssetInfo {
	rel, ok := am.relative(path)
	if !ok {
		return AssetInfo{}
	}
	assetType := determineAssetType(rel)
	if assetType == TypeNone {
		return AssetInfo{}
	}
	modified := time.Now()
	if s, err := os.Stat(path); err == nil {
		modified = s.ModTime()
	}
	info := AssetInfo{
		ID:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("lumen:"+rel)),
		Path:     rel,
		Type:     assetType,
		Modified: modified,
	}
	am.mutex.Lock()
	am.assets[rel] = info
	am.mutex.Unlock()
	return info
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) AssetInfo {
	rel, ok := am.relative(path)
	if !ok {
		return AssetInfo{}
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := am.assets[rel]
	delete(am.assets, rel)
	return info
}

func determineAssetType(path string) Type {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return TypeShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return TypeImage
	case ".obj":
		return TypeModel
	default:
		return TypeNone
	}
}
