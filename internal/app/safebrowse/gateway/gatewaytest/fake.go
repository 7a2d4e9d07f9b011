// Package gatewaytest 提供测试用的信誉服务网关
package gatewaytest

import (
	"context"
	"sync"
	"time"

	"safebrowse.local/internal/app/safebrowse"
)

// Fake 是测试用的网关：threats 里的 key 判为 unsafe，其余 safe
type Fake struct {
	mu      sync.Mutex
	threats map[string]string
	Calls   [][]string
	Err     error
}

func NewFake(threats map[string]string) *Fake {
	if threats == nil {
		threats = map[string]string{}
	}
	return &Fake{threats: threats}
}

func (f *Fake) Query(_ context.Context, keys []string, now time.Time) ([]safebrowse.VerdictRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, append([]string(nil), keys...))
	if f.Err != nil {
		return nil, f.Err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	var unsafe, safe []safebrowse.VerdictRecord
	for _, k := range keys {
		if tt, ok := f.threats[k]; ok {
			unsafe = append(unsafe, safebrowse.NewUnsafeRecord(k, tt, now))
		} else {
			safe = append(safe, safebrowse.NewSafeRecord(k, now))
		}
	}
	return append(unsafe, safe...), nil
}

func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
