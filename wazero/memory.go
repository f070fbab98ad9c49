// Package wazero adapts guest memory and host functions for plugins that
// ship as WebAssembly modules.
package wazero

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// PackPtrLen packs a guest pointer and length into one i64, pointer in the
// high half.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackPtrLen splits a packed i64 into pointer and length.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	//nolint:gosec // WASM pointers are 32-bit
	ptr = uint32(packed >> 32)
	//nolint:gosec // WASM lengths are 32-bit
	length = uint32(packed)
	return ptr, length
}

// ReadBytes copies the region described by packed out of guest memory.
// A zero length yields nil.
func ReadBytes(mod api.Module, packed uint64) ([]byte, error) {
	ptr, length := UnpackPtrLen(packed)
	if length == 0 {
		return nil, nil
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("guest memory read out of range: ptr=%d len=%d", ptr, length)
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}

// WriteBytes asks the guest to allocate len(data) bytes through its
// "allocate" export, copies data there and returns the packed region.
func WriteBytes(ctx context.Context, mod api.Module, data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		return 0, fmt.Errorf("function 'allocate' not exported")
	}
	res, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("allocate failed: %w", err)
	}
	//nolint:gosec // WASM pointers are 32-bit
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("failed to write %d bytes to guest memory at %d", len(data), ptr)
	}
	//nolint:gosec // bounded by guest memory size
	return PackPtrLen(ptr, uint32(len(data))), nil
}
