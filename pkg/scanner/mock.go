package scanner

import (
	"context"
	"io"

	"github.com/avaudit/clamaudit/pkg/clamav"
	"github.com/avaudit/clamaudit/pkg/datamodel"
)

var _ clamav.Scanner = &EngineMock{}

type EngineMock struct {
	ScanMock       func(ctx context.Context, path string) (datamodel.Result, error)
	ScanReaderMock func(ctx context.Context, name string, r io.Reader) (datamodel.Result, error)
}

func (m *EngineMock) Scan(ctx context.Context, path string) (datamodel.Result, error) {
	if m.ScanMock != nil {
		return m.ScanMock(ctx, path)
	}
	panic("Scan not implemented")
}

func (m *EngineMock) ScanReader(ctx context.Context, name string, r io.Reader) (datamodel.Result, error) {
	if m.ScanReaderMock != nil {
		return m.ScanReaderMock(ctx, name, r)
	}
	panic("ScanReader not implemented")
}

var _ Action = &ActionMock{}

type ActionMock struct {
	HandleMock func(path string, result datamodel.Result) error
}

func (m *ActionMock) Handle(path string, result datamodel.Result) error {
	if m.HandleMock != nil {
		return m.HandleMock(path, result)
	}
	panic("Handle not implemented")
}
