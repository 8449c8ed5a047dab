package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/kbstore"
	"Rivalz-Swarm/internal/readiness"
)

type fakeStore struct {
	calls     []string
	createErr error
}

func (f *fakeStore) UploadDocument(_ context.Context, path string) (*kbstore.UploadReceipt, error) {
	f.calls = append(f.calls, "upload:"+filepath.Base(path))
	return &kbstore.UploadReceipt{FileName: filepath.Base(path)}, nil
}

func (f *fakeStore) UploadPassport(_ context.Context, path string) (*kbstore.UploadReceipt, error) {
	f.calls = append(f.calls, "passport:"+filepath.Base(path))
	return &kbstore.UploadReceipt{}, nil
}

func (f *fakeStore) CreateKnowledgeBase(_ context.Context, path, name string) (*kbstore.KnowledgeBase, error) {
	f.calls = append(f.calls, "create:"+filepath.Base(path)+":"+name)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &kbstore.KnowledgeBase{ID: "kb-1", Name: name}, nil
}

func (f *fakeStore) AddDocument(_ context.Context, path, kbID string) (*kbstore.Document, error) {
	f.calls = append(f.calls, "add:"+filepath.Base(path)+":"+kbID)
	return &kbstore.Document{ID: "doc-" + filepath.Base(path)}, nil
}

type fakeWaiter struct {
	id  string
	err error
}

func (f *fakeWaiter) WaitReady(_ context.Context, id string) (*readiness.Outcome, error) {
	f.id = id
	if f.err != nil {
		return nil, f.err
	}
	return &readiness.Outcome{KnowledgeBase: kbstore.KnowledgeBase{ID: id, Status: kbstore.StatusReady}, Checks: 3}, nil
}

func writeFiles(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644))
	}
	return dir
}

func TestExecuteBuildsKnowledgeBase(t *testing.T) {
	dir := writeFiles(t, "b.pdf", "a.pdf", "c.PDF", "notes.txt", PassportFile)
	store := &fakeStore{}
	waiter := &fakeWaiter{}

	result, err := New(store, waiter, WithDefaults(dir, "")).Execute(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"upload:a.pdf", "upload:b.pdf", "upload:c.PDF",
		"passport:" + PassportFile,
		"create:a.pdf:" + DefaultKnowledgeBaseName,
		"add:b.pdf:kb-1", "add:c.PDF:kb-1",
	}, store.calls)
	assert.Equal(t, "kb-1", waiter.id)
	assert.Equal(t, "kb-1", result.KnowledgeBaseID)
	assert.True(t, result.Ready)
	assert.True(t, result.PassportUploaded)
	assert.Equal(t, 3, result.Checks)
	assert.Equal(t, []string{"doc-b.pdf", "doc-c.PDF"}, result.Documents)
}

func TestExecuteTimeoutIsNotFatal(t *testing.T) {
	dir := writeFiles(t, "only.pdf")
	waiter := &fakeWaiter{err: xerrors.Wrap(xerrors.CodeTimeout, readiness.ErrNotReady, "等待知识库就绪超时")}

	result, err := New(&fakeStore{}, waiter).Execute(context.Background(), Request{DocumentsDir: dir, KnowledgeBaseName: "custom"})
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, "kb-1", result.KnowledgeBaseID)
	assert.Equal(t, "custom", result.KnowledgeBaseName)
}

func TestExecutePropagatesStoreAndWaitErrors(t *testing.T) {
	dir := writeFiles(t, "only.pdf")
	storeErr := xerrors.New(xerrors.CodeTransport, "boom")

	_, err := New(&fakeStore{createErr: storeErr}, &fakeWaiter{}).Execute(context.Background(), Request{DocumentsDir: dir})
	assert.ErrorIs(t, err, storeErr)

	listErr := errors.New("list failed")
	_, err = New(&fakeStore{}, &fakeWaiter{err: listErr}).Execute(context.Background(), Request{DocumentsDir: dir})
	assert.ErrorIs(t, err, listErr)
}

func TestExecuteRequiresPDFs(t *testing.T) {
	_, err := New(&fakeStore{}, &fakeWaiter{}).Execute(context.Background(), Request{DocumentsDir: writeFiles(t, "a.txt")})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = New(&fakeStore{}, &fakeWaiter{}).Execute(context.Background(), Request{DocumentsDir: filepath.Join(t.TempDir(), "missing")})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = New(nil, nil).Execute(context.Background(), Request{})
	assert.Equal(t, xerrors.CodeNotInitialized, xerrors.CodeOf(err))
}
