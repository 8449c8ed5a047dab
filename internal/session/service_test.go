package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rivalz-Swarm/internal/agent"
	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/llm"
	"Rivalz-Swarm/internal/storage/mysql"
	"Rivalz-Swarm/internal/tool"
)

// kbOracle 第一轮调用 whoami 工具，看到工具结果后用其内容作答。
type kbOracle struct{}

func (kbOracle) SelectActions(_ context.Context, req llm.Request) (*llm.Decision, error) {
	last := req.Messages[len(req.Messages)-1]
	if last.Role == llm.RoleTool {
		return &llm.Decision{Content: "kb=" + last.Content}, nil
	}
	return &llm.Decision{Invocations: []llm.Invocation{{ID: "c1", Name: "whoami", Arguments: "{}"}}}, nil
}

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	whoami := tool.NewFunc("whoami", "report the knowledge base in scope", nil, nil,
		func(_ context.Context, env tool.Env, _ tool.Args) tool.Result {
			return tool.Success(env.KnowledgeBaseID())
		})
	registry, err := agent.Build(agent.Spec{Name: "Entry", Instructions: "answer", Tools: []tool.Tool{whoami}})
	require.NoError(t, err)
	svc, err := New(agent.NewDispatcher(kbOracle{}), registry.MustGet("Entry"), opts...)
	require.NoError(t, err)
	return svc
}

type memoryArchive struct {
	mu      sync.Mutex
	records []mysql.TranscriptRecord
	fail    bool
}

func (m *memoryArchive) Append(_ context.Context, records []mysql.TranscriptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("archive down")
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *memoryArchive) ListSession(_ context.Context, id string, _ int) ([]mysql.TranscriptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mysql.TranscriptRecord
	for _, r := range m.records {
		if r.SessionID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryArchive) NextSeq(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := 0
	for _, r := range m.records {
		if r.SessionID == id && r.Seq >= next {
			next = r.Seq + 1
		}
	}
	return next, nil
}

func (m *memoryArchive) Close() error { return nil }

func TestChatCreatesSessionWithDefaultKnowledgeBase(t *testing.T) {
	var counts []int
	svc := newService(t, WithDefaultKnowledgeBase("kb-1"), WithSessionGauge(func(n int) { counts = append(counts, n) }))

	res, err := svc.Chat(context.Background(), "", "which kb?")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "kb=kb-1", res.Content)
	assert.Equal(t, "Entry", res.Agent)
	assert.Equal(t, []int{1}, counts)

	again, err := svc.Chat(context.Background(), res.SessionID, "again")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, 1, svc.Count())
}

func TestDefaultKnowledgeBaseOnlyAffectsNewSessions(t *testing.T) {
	svc := newService(t)
	old, _ := svc.Open("old")

	svc.SetDefaultKnowledgeBase("kb-new")
	assert.Equal(t, "kb-new", svc.DefaultKnowledgeBase())

	fresh, created := svc.Open("fresh")
	assert.True(t, created)
	assert.Equal(t, "kb-new", fresh.KnowledgeBaseID())
	assert.Empty(t, old.KnowledgeBaseID())

	res, err := svc.Chat(context.Background(), "old", "which kb?")
	require.NoError(t, err)
	assert.Equal(t, "kb=", res.Content)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	svc := newService(t)
	_, err := svc.Chat(context.Background(), "s", "   ")
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
	assert.Zero(t, svc.Count())
}

func TestChatArchivesOnlyNewMessages(t *testing.T) {
	archive := &memoryArchive{}
	svc := newService(t, WithArchive(archive), WithDefaultKnowledgeBase("kb-7"))

	_, err := svc.Chat(context.Background(), "s1", "first")
	require.NoError(t, err)
	_, err = svc.Chat(context.Background(), "s1", "second")
	require.NoError(t, err)

	records, err := svc.Transcript(context.Background(), "s1", 0)
	require.NoError(t, err)
	// 每次对话产生 user、assistant(调用)、tool、assistant(回复) 四条。
	require.Len(t, records, 8)
	for i, r := range records {
		assert.Equal(t, i, r.Seq)
		assert.Equal(t, "kb-7", r.KnowledgeBaseID)
	}
	assert.Equal(t, llm.RoleUser, records[4].Role)
	assert.Equal(t, "second", records[4].Content)
	assert.Equal(t, "whoami", records[1].ToolCalls[0].Name)
	assert.Equal(t, "Entry", records[1].Sender)
}

func TestArchiveFailureIsRetriedOnNextChat(t *testing.T) {
	archive := &memoryArchive{fail: true}
	svc := newService(t, WithArchive(archive))

	_, err := svc.Chat(context.Background(), "s1", "first")
	require.NoError(t, err)
	assert.Empty(t, archive.records)

	archive.fail = false
	_, err = svc.Chat(context.Background(), "s1", "second")
	require.NoError(t, err)
	assert.Len(t, archive.records, 8)
}

func TestTranscriptFallsBackToMemory(t *testing.T) {
	svc := newService(t)
	_, err := svc.Chat(context.Background(), "s1", "hello")
	require.NoError(t, err)

	records, err := svc.Transcript(context.Background(), "s1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "hello", records[0].Content)

	_, err = svc.Transcript(context.Background(), "missing", 0)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNotFound))
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	svc := newService(t, WithIdleTTL(time.Minute))
	svc.Open("idle")

	now := time.Now()
	svc.now = func() time.Time { return now.Add(30 * time.Second) }
	assert.Zero(t, svc.Sweep())

	svc.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.Equal(t, 1, svc.Sweep())
	_, ok := svc.Lookup("idle")
	assert.False(t, ok)
}

func TestSweptSessionContinuesArchiveNumbering(t *testing.T) {
	archive, err := mysql.NewFileTranscriptRepository(t.TempDir())
	require.NoError(t, err)
	svc := newService(t, WithArchive(archive), WithIdleTTL(time.Minute))
	ctx := context.Background()

	_, err = svc.Chat(ctx, "s-1", "first")
	require.NoError(t, err)

	now := time.Now()
	svc.now = func() time.Time { return now.Add(2 * time.Minute) }
	require.Equal(t, 1, svc.Sweep())

	res, err := svc.Chat(ctx, "s-1", "second after sweep")
	require.NoError(t, err)
	assert.True(t, res.Created)

	records, err := archive.ListSession(ctx, "s-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 8)
	for i, r := range records {
		assert.Equal(t, i, r.Seq)
	}
	assert.Equal(t, "second after sweep", records[4].Content)
}

func TestRestartedServiceContinuesArchiveNumbering(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := mysql.NewFileTranscriptRepository(dir)
	require.NoError(t, err)
	_, err = newService(t, WithArchive(first)).Chat(ctx, "s-1", "before restart")
	require.NoError(t, err)

	reopened, err := mysql.NewFileTranscriptRepository(dir)
	require.NoError(t, err)
	_, err = newService(t, WithArchive(reopened)).Chat(ctx, "s-1", "after restart")
	require.NoError(t, err)

	records, err := reopened.ListSession(ctx, "s-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 8)
	assert.Equal(t, "before restart", records[0].Content)
	assert.Equal(t, "after restart", records[4].Content)
	assert.Equal(t, 7, records[7].Seq)
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)

	registry, err := agent.Build(agent.Spec{Name: "A"})
	require.NoError(t, err)
	_, err = New(agent.NewDispatcher(kbOracle{}), nil)
	require.Error(t, err)
	_, err = New(agent.NewDispatcher(kbOracle{}), registry.MustGet("A"))
	require.NoError(t, err)
}
