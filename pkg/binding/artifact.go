package binding

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// findArtifact returns the first existing regular file named name in dirs.
func findArtifact(dirs []string, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: artifact name is empty", ErrArtifactNotFound)
	}

	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w: %s (searched %v)", ErrArtifactNotFound, name, dirs)
}

// digestFile computes a content digest of the file at path.
func digestFile(kind, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return fmt.Sprintf("%s:%x", kind, h.Sum64()), nil
}

var elfMachines = map[string]elf.Machine{
	"amd64":   elf.EM_X86_64,
	"386":     elf.EM_386,
	"arm64":   elf.EM_AARCH64,
	"arm":     elf.EM_ARM,
	"riscv64": elf.EM_RISCV,
	"ppc64le": elf.EM_PPC64,
	"ppc64":   elf.EM_PPC64,
	"s390x":   elf.EM_S390,
	"loong64": elf.EM_LOONGARCH,
}

var machoCPUs = map[string]macho.Cpu{
	"amd64": macho.CpuAmd64,
	"arm64": macho.CpuArm64,
}

// checkNativeBinary validates that path is a shared object for goos/goarch by
// reading its headers only.
func checkNativeBinary(path, goos, goarch string) error {
	if goos == "darwin" {
		return checkMachO(path, goarch)
	}
	return checkELF(path, goarch)
}

func checkELF(path, goarch string) error {
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s is not an ELF object: %v", ErrArtifactIncompatible, path, err)
	}
	defer f.Close()

	if f.Type != elf.ET_DYN {
		return fmt.Errorf("%w: %s is %s, want a shared object", ErrArtifactIncompatible, path, f.Type)
	}

	want, ok := elfMachines[goarch]
	if !ok {
		return fmt.Errorf("%w: no ELF machine known for %s", ErrArtifactIncompatible, goarch)
	}
	if f.Machine != want {
		return fmt.Errorf("%w: %s targets %s, want %s", ErrArtifactIncompatible, path, f.Machine, want)
	}
	return nil
}

func checkMachO(path, goarch string) error {
	f, err := macho.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %s is not a Mach-O object: %v", ErrArtifactIncompatible, path, err)
	}
	defer f.Close()

	if f.Type != macho.TypeDylib && f.Type != macho.TypeBundle {
		return fmt.Errorf("%w: %s is %s, want a dynamic library", ErrArtifactIncompatible, path, f.Type)
	}

	want, ok := machoCPUs[goarch]
	if !ok {
		return fmt.Errorf("%w: no Mach-O cpu known for %s", ErrArtifactIncompatible, goarch)
	}
	if f.Cpu != want {
		return fmt.Errorf("%w: %s targets %s, want %s", ErrArtifactIncompatible, path, f.Cpu, want)
	}
	return nil
}

// wasmHeader is the binary magic followed by version 1.
var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// checkWasmBinary validates the WebAssembly header of the file at path.
func checkWasmBinary(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	defer f.Close()

	header := make([]byte, len(wasmHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("%w: %s is too short for a wasm module", ErrArtifactIncompatible, path)
	}
	if !bytes.Equal(header, wasmHeader) {
		return fmt.Errorf("%w: %s has no wasm v1 header", ErrArtifactIncompatible, path)
	}
	return nil
}

// digestBytes computes a content digest of an in-memory artifact.
func digestBytes(kind string, b []byte) string {
	return fmt.Sprintf("%s:%x", kind, xxhash.Sum64(b))
}
