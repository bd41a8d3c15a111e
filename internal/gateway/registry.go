package gateway

import (
	"errors"
	"fmt"
	"sort"
)

// BackendTarget は転送先のバックエンドサービス。
type BackendTarget struct {
	// Name は論理サービス名（users, orders, menu, delivery）。
	Name string
	// BaseURL はサービスのベースURL。
	BaseURL string
}

// Registry は論理サービス名からBackendTargetへの静的な対応表。
// 生成後は変更されない。
type Registry struct {
	targets map[string]BackendTarget
}

// NewRegistry はサービス名とベースURLの対応からRegistryを生成する。
// requiredに挙げたサービスのベースURLが無い場合は起動時エラーとする。
func NewRegistry(services map[string]string, required ...string) (*Registry, error) {
	var errs []error
	for _, name := range required {
		if services[name] == "" {
			errs = append(errs, fmt.Errorf("%w: %s のベースURLが設定されていません", ErrUnknownBackend, name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	targets := make(map[string]BackendTarget, len(services))
	for name, baseURL := range services {
		if baseURL == "" {
			continue
		}
		targets[name] = BackendTarget{Name: name, BaseURL: baseURL}
	}
	return &Registry{targets: targets}, nil
}

// Resolve はサービス名に対応するBackendTargetを返す。
func (r *Registry) Resolve(name string) (BackendTarget, error) {
	t, ok := r.targets[name]
	if !ok {
		return BackendTarget{}, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return t, nil
}

// Names は登録済みのサービス名を昇順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
