package loaders

import (
	"encoding/binary"
	"fmt"
)

const spirvMagic = 0x07230203

// ShaderLoader reads a compiled SPIR-V module.
type ShaderLoader struct {
	BinaryLoader
}

func (sl *ShaderLoader) Load(path string) (any, error) {
	code, err := sl.read(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateSPIRV(code); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}

// ValidateSPIRV checks the word alignment and the magic number of code.
func ValidateSPIRV(code []byte) error {
	if len(code) < 4 || len(code)%4 != 0 {
		return fmt.Errorf("spir-v code size %d is not a positive multiple of 4", len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return fmt.Errorf("bad spir-v magic %#08x", magic)
	}
	return nil
}
