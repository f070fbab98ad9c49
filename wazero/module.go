package wazero

import (
	"context"
	"fmt"

	t_wazero "github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// HostFunc is one function exported by a host module.
type HostFunc struct {
	Name        string
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
	Handler     api.GoModuleFunc
}

// InstantiateHostModule registers funcs under moduleName in rt.
func InstantiateHostModule(ctx context.Context, rt t_wazero.Runtime, moduleName string, funcs ...HostFunc) error {
	b := rt.NewHostModuleBuilder(moduleName)
	for _, f := range funcs {
		b.NewFunctionBuilder().
			WithGoModuleFunction(f.Handler, f.ParamTypes, f.ResultTypes).
			Export(f.Name)
	}
	if _, err := b.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module %s: %w", moduleName, err)
	}
	return nil
}
