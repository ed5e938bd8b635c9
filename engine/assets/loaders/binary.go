package loaders

import (
	"fmt"
	"os"
)

type BinaryLoader struct{}

func (bl *BinaryLoader) Load(path string) (any, error) {
	return bl.read(path)
}

func (bl *BinaryLoader) read(path string) ([]byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%s: file is empty", path)
	}
	return buf, nil
}
