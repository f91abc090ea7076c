package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertwitch/minixfs/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHostFS struct {
	mock.Mock
}

func (m *mockHostFS) Open(name string) (*os.File, error) {
	args := m.Called(name)
	f, _ := args.Get(0).(*os.File)

	return f, args.Error(1)
}

func (m *mockHostFS) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	args := m.Called(name, flag, perm)
	f, _ := args.Get(0).(*os.File)

	return f, args.Error(1)
}

// TestOpenSource_Success tests that a regular host file is opened through the provider.
func TestOpenSource_Success(t *testing.T) {
	t.Parallel()

	name := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.WriteFile(name, []byte("hello"), 0o640))

	f, err := os.Open(name)
	require.NoError(t, err)

	osOps := &mockHostFS{}
	osOps.On("Open", name).Return(f, nil).Once()

	host, info, err := openSource(osOps, name)
	require.NoError(t, err)
	defer host.Close()

	assert.Equal(t, int64(5), info.Size())
	assert.Equal(t, fs.FileMode(0o640), info.Mode().Perm())
	osOps.AssertExpectations(t)
}

// TestOpenSource_Fail_Provider tests that a provider error is returned as is.
func TestOpenSource_Fail_Provider(t *testing.T) {
	t.Parallel()

	errOpen := errors.New("open failed")

	osOps := &mockHostFS{}
	osOps.On("Open", "/nowhere").Return(nil, errOpen).Once()

	host, info, err := openSource(osOps, "/nowhere")
	require.ErrorIs(t, err, errOpen)
	assert.Nil(t, host)
	assert.Nil(t, info)
	osOps.AssertExpectations(t)
}

// TestOpenSource_Fail_Directory tests that a host directory is rejected.
func TestOpenSource_Fail_Directory(t *testing.T) {
	t.Parallel()

	host, _, err := openSource(&schema.OS{}, t.TempDir())
	require.ErrorIs(t, err, errIsDir)
	assert.Nil(t, host)
}

// TestCreateTarget_Success tests that the target is created through the
// provider with the image permission bits only.
func TestCreateTarget_Success(t *testing.T) {
	t.Parallel()

	name := filepath.Join(t.TempDir(), "dst")
	f, err := os.Create(name)
	require.NoError(t, err)

	osOps := &mockHostFS{}
	osOps.On("OpenFile", name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(0o751)).Return(f, nil).Once()

	host, err := createTarget(osOps, name, 0o100751)
	require.NoError(t, err)
	require.NoError(t, host.Close())
	osOps.AssertExpectations(t)
}

// TestCreateTarget_Fail_Provider tests that a provider error is returned as is.
func TestCreateTarget_Fail_Provider(t *testing.T) {
	t.Parallel()

	errOpen := errors.New("read-only")

	osOps := &mockHostFS{}
	osOps.On("OpenFile", "/ro/dst", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(0o644)).Return(nil, errOpen).Once()

	_, err := createTarget(osOps, "/ro/dst", 0o100644)
	require.ErrorIs(t, err, errOpen)
	osOps.AssertExpectations(t)
}
