package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rivalz-Swarm/internal/kbstore"
)

type stubLister struct {
	bases []kbstore.KnowledgeBase
	err   error
}

func (s stubLister) GetKnowledgeBases(context.Context) ([]kbstore.KnowledgeBase, error) {
	return s.bases, s.err
}

func TestFallbackReusesReadyKnowledgeBase(t *testing.T) {
	f := NewFallback(stubLister{bases: []kbstore.KnowledgeBase{
		{ID: "kb-old", Name: DefaultKnowledgeBaseName, Status: kbstore.StatusProcessing},
		{ID: "kb-other", Name: "other", Status: kbstore.StatusReady},
		{ID: "kb-ready", Name: DefaultKnowledgeBaseName, Status: kbstore.StatusReady, Documents: []string{"a.pdf"}},
	}}, "")

	res, err := f.Recover(context.Background(), Request{}, errors.New("upload failed"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "kb-ready", res.KnowledgeBaseID)
	assert.True(t, res.Ready)
	assert.Equal(t, []string{"a.pdf"}, res.Documents)
}

func TestFallbackWithoutMatch(t *testing.T) {
	f := NewFallback(stubLister{bases: []kbstore.KnowledgeBase{{ID: "x", Name: "docs", Status: kbstore.StatusReady}}}, "")
	res, err := f.Recover(context.Background(), Request{KnowledgeBaseName: "missing"}, nil)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = f.Recover(context.Background(), Request{KnowledgeBaseName: "docs"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", res.KnowledgeBaseID)
}

func TestFallbackListFailure(t *testing.T) {
	f := NewFallback(stubLister{err: errors.New("down")}, "")
	_, err := f.Recover(context.Background(), Request{}, nil)
	require.Error(t, err)
}
