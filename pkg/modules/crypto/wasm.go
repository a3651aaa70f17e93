package crypto

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/chazu/qudag/pkg/binding"
)

// Exports the portable build must provide. Every primitive takes (ptr, len)
// pairs for inputs and fixed-size output pointers, and returns an i32
// status where 0 means success. mldsa_verify returns 1 for a valid
// signature and 0 for an invalid one.
const (
	exportMemory      = "memory"
	exportAlloc       = "qudag_alloc"
	exportDealloc     = "qudag_dealloc"
	exportKeygen      = "mlkem768_keygen"
	exportEncapsulate = "mlkem768_encapsulate"
	exportDecapsulate = "mlkem768_decapsulate"
	exportSign        = "mldsa_sign"
	exportVerify      = "mldsa_verify"
	exportBlake3      = "blake3_hash"
)

var requiredExports = []string{
	exportAlloc,
	exportDealloc,
	exportKeygen,
	exportEncapsulate,
	exportDecapsulate,
	exportSign,
	exportVerify,
	exportBlake3,
}

// wasmBackend calls into an instantiated portable crypto module. A wasm
// instance runs one call at a time.
type wasmBackend struct {
	mu  sync.Mutex
	mem api.Memory
	fns map[string]api.Function
}

// NewWasmBackend adapts the exports of an instantiated portable crypto
// module into a Backend. It fails with binding.ErrSymbolNotFound when an
// export or the memory is missing.
func NewWasmBackend(ctx context.Context, mod api.Module) (Backend, error) {
	mem := mod.ExportedMemory(exportMemory)
	if mem == nil {
		return nil, fmt.Errorf("%w: %s exports no memory", binding.ErrSymbolNotFound, mod.Name())
	}

	fns := make(map[string]api.Function, len(requiredExports))
	for _, name := range requiredExports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			return nil, fmt.Errorf("%w: %s does not export %s", binding.ErrSymbolNotFound, mod.Name(), name)
		}
		fns[name] = fn
	}

	return &wasmBackend{mem: mem, fns: fns}, nil
}

// buffer is a region of guest memory owned by the host for one call.
type buffer struct {
	ptr  uint32
	size uint32
}

func (w *wasmBackend) alloc(ctx context.Context, size int) (buffer, error) {
	n := uint32(size)
	if n == 0 {
		n = 1
	}
	res, err := w.fns[exportAlloc].Call(ctx, uint64(n))
	if err != nil {
		return buffer{}, fmt.Errorf("%s: %w", exportAlloc, err)
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return buffer{}, fmt.Errorf("%s: out of memory allocating %d bytes", exportAlloc, n)
	}
	return buffer{ptr: ptr, size: n}, nil
}

func (w *wasmBackend) free(ctx context.Context, bufs []buffer) {
	for _, b := range bufs {
		_, _ = w.fns[exportDealloc].Call(ctx, uint64(b.ptr), uint64(b.size))
	}
}

// call runs one primitive. Inputs are copied into guest memory, outputs are
// allocated with the given sizes, and the export receives the pointers in order.
func (w *wasmBackend) call(ctx context.Context, name string, inputs [][]byte, outputs []int) (int32, [][]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var bufs []buffer
	defer func() { w.free(ctx, bufs) }()

	params := make([]uint64, 0, 2*len(inputs)+len(outputs))
	for _, in := range inputs {
		b, err := w.alloc(ctx, len(in))
		if err != nil {
			return 0, nil, err
		}
		bufs = append(bufs, b)
		if !w.mem.Write(b.ptr, in) {
			return 0, nil, fmt.Errorf("%s: input of %d bytes out of range", name, len(in))
		}
		params = append(params, uint64(b.ptr), uint64(len(in)))
	}

	outBufs := make([]buffer, 0, len(outputs))
	for _, size := range outputs {
		b, err := w.alloc(ctx, size)
		if err != nil {
			return 0, nil, err
		}
		bufs = append(bufs, b)
		outBufs = append(outBufs, b)
		params = append(params, uint64(b.ptr))
	}

	res, err := w.fns[name].Call(ctx, params...)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", name, err)
	}
	status := int32(uint32(res[0]))

	out := make([][]byte, len(outputs))
	for i, b := range outBufs {
		view, ok := w.mem.Read(b.ptr, uint32(outputs[i]))
		if !ok {
			return 0, nil, fmt.Errorf("%s: output %d out of range", name, i)
		}
		out[i] = append([]byte(nil), view...)
	}
	return status, out, nil
}

func statusError(name string, status int32) error {
	return fmt.Errorf("%s failed with status %d", name, status)
}

func (w *wasmBackend) GenerateKeypair(ctx context.Context) (KeyPair, error) {
	status, out, err := w.call(ctx, exportKeygen, nil, []int{PublicKeySize, SecretKeySize})
	if err != nil {
		return KeyPair{}, err
	}
	if status != 0 {
		return KeyPair{}, statusError(exportKeygen, status)
	}
	return KeyPair{PublicKey: out[0], SecretKey: out[1]}, nil
}

func (w *wasmBackend) Encapsulate(ctx context.Context, publicKey []byte) (Encapsulated, error) {
	status, out, err := w.call(ctx, exportEncapsulate, [][]byte{publicKey}, []int{CiphertextSize, SharedSecretSize})
	if err != nil {
		return Encapsulated{}, err
	}
	if status != 0 {
		return Encapsulated{}, statusError(exportEncapsulate, status)
	}
	return Encapsulated{Ciphertext: out[0], SharedSecret: out[1]}, nil
}

func (w *wasmBackend) Decapsulate(ctx context.Context, ciphertext, secretKey []byte) ([]byte, error) {
	status, out, err := w.call(ctx, exportDecapsulate, [][]byte{ciphertext, secretKey}, []int{SharedSecretSize})
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, statusError(exportDecapsulate, status)
	}
	return out[0], nil
}

func (w *wasmBackend) Sign(ctx context.Context, message, secretKey []byte) ([]byte, error) {
	status, out, err := w.call(ctx, exportSign, [][]byte{message, secretKey}, []int{SignatureSize})
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, statusError(exportSign, status)
	}
	return out[0], nil
}

func (w *wasmBackend) Verify(ctx context.Context, message, signature, publicKey []byte) (bool, error) {
	status, _, err := w.call(ctx, exportVerify, [][]byte{message, signature, publicKey}, nil)
	if err != nil {
		return false, err
	}
	switch status {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, statusError(exportVerify, status)
	}
}

func (w *wasmBackend) Blake3(ctx context.Context, data []byte) ([]byte, error) {
	status, out, err := w.call(ctx, exportBlake3, [][]byte{data}, []int{HashSize})
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, statusError(exportBlake3, status)
	}
	return out[0], nil
}
