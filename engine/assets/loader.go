package assets

// Loader turns the file at path into the in-memory form of one asset type.
type Loader interface {
	Load(path string) (any, error)
}
