// Package mocks provides a func-field fake of the Docker API used by dockerdrv.
package mocks

import (
	"context"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
)

// MockAPI is a mock implementation of dockerdrv.API for testing
type MockAPI struct {
	PingFunc             func(ctx context.Context) (types.Ping, error)
	ContainerListFunc    func(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerPauseFunc   func(ctx context.Context, id string) error
	ContainerUnpauseFunc func(ctx context.Context, id string) error
	ContainerStartFunc   func(ctx context.Context, id string, options container.StartOptions) error
	ContainerStopFunc    func(ctx context.Context, id string, options container.StopOptions) error
	ContainerRestartFunc func(ctx context.Context, id string, options container.StopOptions) error
	ContainerKillFunc    func(ctx context.Context, id, signal string) error
	ContainerExportFunc  func(ctx context.Context, id string) (io.ReadCloser, error)
	ImageImportFunc      func(ctx context.Context, source image.ImportSource, ref string, options image.ImportOptions) (io.ReadCloser, error)
	CloseFunc            func() error
}

// Ping calls the mock function
func (m *MockAPI) Ping(ctx context.Context) (types.Ping, error) {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return types.Ping{}, nil
}

// ContainerList calls the mock function
func (m *MockAPI) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	if m.ContainerListFunc != nil {
		return m.ContainerListFunc(ctx, options)
	}
	return nil, nil
}

// ContainerPause calls the mock function
func (m *MockAPI) ContainerPause(ctx context.Context, id string) error {
	if m.ContainerPauseFunc != nil {
		return m.ContainerPauseFunc(ctx, id)
	}
	return nil
}

// ContainerUnpause calls the mock function
func (m *MockAPI) ContainerUnpause(ctx context.Context, id string) error {
	if m.ContainerUnpauseFunc != nil {
		return m.ContainerUnpauseFunc(ctx, id)
	}
	return nil
}

// ContainerStart calls the mock function
func (m *MockAPI) ContainerStart(ctx context.Context, id string, options container.StartOptions) error {
	if m.ContainerStartFunc != nil {
		return m.ContainerStartFunc(ctx, id, options)
	}
	return nil
}

// ContainerStop calls the mock function
func (m *MockAPI) ContainerStop(ctx context.Context, id string, options container.StopOptions) error {
	if m.ContainerStopFunc != nil {
		return m.ContainerStopFunc(ctx, id, options)
	}
	return nil
}

// ContainerRestart calls the mock function
func (m *MockAPI) ContainerRestart(ctx context.Context, id string, options container.StopOptions) error {
	if m.ContainerRestartFunc != nil {
		return m.ContainerRestartFunc(ctx, id, options)
	}
	return nil
}

// ContainerKill calls the mock function
func (m *MockAPI) ContainerKill(ctx context.Context, id, signal string) error {
	if m.ContainerKillFunc != nil {
		return m.ContainerKillFunc(ctx, id, signal)
	}
	return nil
}

// ContainerExport calls the mock function
func (m *MockAPI) ContainerExport(ctx context.Context, id string) (io.ReadCloser, error) {
	if m.ContainerExportFunc != nil {
		return m.ContainerExportFunc(ctx, id)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

// ImageImport calls the mock function
func (m *MockAPI) ImageImport(ctx context.Context, source image.ImportSource, ref string, options image.ImportOptions) (io.ReadCloser, error) {
	if m.ImageImportFunc != nil {
		return m.ImageImportFunc(ctx, source, ref, options)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

// Close calls the mock function
func (m *MockAPI) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
