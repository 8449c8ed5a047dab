package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Rivalz-Swarm/internal/errors"
	"Rivalz-Swarm/internal/llm"
	"Rivalz-Swarm/internal/tool"
	"Rivalz-Swarm/internal/toolkit"
)

// scriptedOracle 按顺序返回预设的决策，并记录每次请求。
type scriptedOracle struct {
	mu        sync.Mutex
	decisions []*llm.Decision
	requests  []llm.Request
	err       error
	// exhausted 在脚本用完后返回，为 nil 时返回空决策。
	exhausted error
}

func (o *scriptedOracle) SelectActions(_ context.Context, req llm.Request) (*llm.Decision, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	if o.err != nil {
		return nil, o.err
	}
	if len(o.decisions) == 0 {
		if o.exhausted != nil {
			return nil, o.exhausted
		}
		return &llm.Decision{}, nil
	}
	next := o.decisions[0]
	o.decisions = o.decisions[1:]
	return next, nil
}

func calls(names ...string) []llm.Invocation {
	out := make([]llm.Invocation, len(names))
	for i, name := range names {
		out[i] = llm.Invocation{ID: "call_" + name, Name: name, Arguments: "{}"}
	}
	return out
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) tool(name string, observe func(tool.Env)) tool.Tool {
	return tool.NewFunc(name, name, nil, nil, func(_ context.Context, env tool.Env, _ tool.Args) tool.Result {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		if observe != nil {
			observe(env)
		}
		return tool.Success(name + " done")
	})
}

func testRegistry(t *testing.T, rec *recorder, observe func(tool.Env)) *Registry {
	t.Helper()
	reg, err := Build(
		Spec{
			Name:  "triage",
			Tools: []tool.Tool{rec.tool("tool_a", observe), rec.tool("tool_b", observe)},
			Handoffs: []Handoff{
				{Tool: "to_x", Target: "x"},
				{Tool: "to_y", Target: "y"},
			},
		},
		Spec{Name: "x", Handoffs: []Handoff{{Tool: "back", Target: "triage"}}},
		Spec{Name: "y"},
	)
	require.NoError(t, err)
	return reg
}

func TestHandoffActivatesNextAgentOnFollowingTurn(t *testing.T) {
	reg := testRegistry(t, &recorder{}, nil)
	oracle := &scriptedOracle{decisions: []*llm.Decision{
		{Invocations: calls("to_x")},
		{Content: "hello from x"},
	}}
	session := NewSession("s1", reg.MustGet("triage"), "")

	reply, err := NewDispatcher(oracle).Run(context.Background(), session, "I want to stake")
	require.NoError(t, err)

	require.Len(t, oracle.requests, 2)
	assert.Equal(t, "triage", oracle.requests[0].Agent)
	assert.Equal(t, "x", oracle.requests[1].Agent)
	assert.Equal(t, "x", reply.Agent)
	assert.Equal(t, "hello from x", reply.Content)
	assert.Equal(t, "x", session.Active().Name())

	// 交接调用本身不产生带文本的助手消息。
	for _, msg := range reply.Messages {
		if msg.Role == llm.RoleAssistant && msg.Content != "" {
			assert.Equal(t, "x", msg.Sender)
		}
	}
	require.Len(t, reply.Messages, 3)
	assert.Equal(t, llm.RoleTool, reply.Messages[1].Role)
	assert.JSONEq(t, `{"assistant":"x"}`, reply.Messages[1].Content)
}

func TestHandoffTakesEffectAfterAllCallsOfTurn(t *testing.T) {
	rec := &recorder{}
	var activeDuringB string
	reg := testRegistry(t, rec, func(env tool.Env) {
		activeDuringB = env.(*Session).Active().Name()
	})
	oracle := &scriptedOracle{decisions: []*llm.Decision{
		{Invocations: calls("tool_a", "to_x", "tool_b")},
		{Content: "done"},
	}}
	session := NewSession("s2", reg.MustGet("triage"), "")

	reply, err := NewDispatcher(oracle).Run(context.Background(), session, "go")
	require.NoError(t, err)

	assert.Equal(t, []string{"tool_a", "tool_b"}, rec.calls)
	assert.Equal(t, "triage", activeDuringB)
	assert.Equal(t, "x", oracle.requests[1].Agent)
	assert.Equal(t, "x", reply.Agent)

	var toolNames []string
	for _, msg := range reply.Messages {
		if msg.Role == llm.RoleTool {
			toolNames = append(toolNames, msg.ToolName)
		}
	}
	assert.Equal(t, []string{"tool_a", "to_x", "tool_b"}, toolNames)
}

func TestLastHandoffInTurnWins(t *testing.T) {
	reg := testRegistry(t, &recorder{}, nil)
	oracle := &scriptedOracle{decisions: []*llm.Decision{
		{Invocations: calls("to_x", "to_y")},
		{Content: "y here"},
	}}
	session := NewSession("s3", reg.MustGet("triage"), "")

	reply, err := NewDispatcher(oracle).Run(context.Background(), session, "hi")
	require.NoError(t, err)
	assert.Equal(t, "y", reply.Agent)
}

func TestUnknownToolAndBadArgumentsBecomeToolErrors(t *testing.T) {
	reg := testRegistry(t, &recorder{}, nil)
	oracle := &scriptedOracle{decisions: []*llm.Decision{
		{Invocations: []llm.Invocation{
			{ID: "1", Name: "crypto_price", Arguments: "{}"},
			{ID: "2", Name: "tool_a", Arguments: "{not json"},
		}},
		{Content: "sorry"},
	}}
	session := NewSession("s4", reg.MustGet("triage"), "")

	reply, err := NewDispatcher(oracle).Run(context.Background(), session, "hi")
	require.NoError(t, err)

	require.Len(t, reply.Messages, 4)
	assert.Contains(t, reply.Messages[1].Content, `"error":"Unknown Tool"`)
	assert.Contains(t, reply.Messages[2].Content, `"error":"Invalid Arguments"`)
	assert.Equal(t, "sorry", reply.Content)
}

func TestMaxTurnsTruncatesRun(t *testing.T) {
	reg := testRegistry(t, &recorder{}, nil)
	oracle := &scriptedOracle{decisions: []*llm.Decision{
		{Invocations: calls("tool_a")},
		{Invocations: calls("tool_a")},
		{Invocations: calls("tool_a")},
	}}
	session := NewSession("s5", reg.MustGet("triage"), "")

	reply, err := NewDispatcher(oracle, WithMaxTurns(2)).Run(context.Background(), session, "loop")
	require.NoError(t, err)
	assert.Equal(t, 2, reply.Turns)
	assert.True(t, reply.Truncated)
	assert.Len(t, oracle.requests, 2)
}

func TestOracleFailureIsWrapped(t *testing.T) {
	reg := testRegistry(t, &recorder{}, nil)
	oracle := &scriptedOracle{err: errors.New("rate limited")}
	session := NewSession("s6", reg.MustGet("triage"), "")

	_, err := NewDispatcher(oracle).Run(context.Background(), session, "hi")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeExecutorFailure, xerrors.CodeOf(err))
	assert.Zero(t, session.Len())
}

func TestFailedRunLeavesSessionRetryable(t *testing.T) {
	rec := &recorder{}
	reg := testRegistry(t, rec, nil)
	session := NewSession("s6b", reg.MustGet("triage"), "")
	_, err := NewDispatcher(&scriptedOracle{decisions: []*llm.Decision{{Content: "welcome"}}}).
		Run(context.Background(), session, "hello")
	require.NoError(t, err)
	require.Equal(t, 2, session.Len())

	// 第一轮调用工具并交接，第二轮模型失败。
	flaky := &scriptedOracle{
		decisions: []*llm.Decision{{Invocations: calls("tool_a", "to_x")}},
		exhausted: errors.New("upstream 529"),
	}
	_, err = NewDispatcher(flaky).Run(context.Background(), session, "stake 10")
	require.Error(t, err)
	assert.Equal(t, 2, session.Len())
	assert.Equal(t, "triage", session.Active().Name())

	retry := &scriptedOracle{decisions: []*llm.Decision{{Content: "done"}}}
	_, err = NewDispatcher(retry).Run(context.Background(), session, "stake 10")
	require.NoError(t, err)
	users := 0
	for _, m := range session.Messages() {
		if m.Role == llm.RoleUser && m.Content == "stake 10" {
			users++
		}
	}
	assert.Equal(t, 1, users)
	require.Len(t, retry.requests, 1)
	assert.Len(t, retry.requests[0].Messages, 3)
}

func TestRunValidatesInput(t *testing.T) {
	reg := testRegistry(t, &recorder{}, nil)
	session := NewSession("s7", reg.MustGet("triage"), "")

	_, err := NewDispatcher(&scriptedOracle{}).Run(context.Background(), session, "  ")
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = NewDispatcher(nil).Run(context.Background(), session, "hi")
	assert.Equal(t, xerrors.CodeNotInitialized, xerrors.CodeOf(err))
}

func TestToolsSeeSessionKnowledgeBase(t *testing.T) {
	var seen string
	setter := tool.NewFunc("set_kb", "", nil, nil, func(_ context.Context, env tool.Env, _ tool.Args) tool.Result {
		seen = env.KnowledgeBaseID()
		env.SetKnowledgeBaseID("kb-new")
		return tool.Success("ok")
	})
	reg, err := Build(Spec{Name: "solo", Tools: []tool.Tool{setter}})
	require.NoError(t, err)

	session := NewSession("s8", reg.MustGet("solo"), "kb-default")
	oracle := &scriptedOracle{decisions: []*llm.Decision{{Invocations: calls("set_kb")}}}
	_, err = NewDispatcher(oracle).Run(context.Background(), session, "create")
	require.NoError(t, err)

	assert.Equal(t, "kb-default", seen)
	assert.Equal(t, "kb-new", session.KnowledgeBaseID())
}

type countingObserver struct {
	turns, calls, handoffs int
}

func (c *countingObserver) ObserveTurn(string)                                { c.turns++ }
func (c *countingObserver) ObserveToolCall(string, string, bool, time.Duration) { c.calls++ }
func (c *countingObserver) ObserveHandoff(string, string)                       { c.handoffs++ }

func TestObserverReceivesEvents(t *testing.T) {
	reg := testRegistry(t, &recorder{}, nil)
	oracle := &scriptedOracle{decisions: []*llm.Decision{
		{Invocations: calls("tool_a", "to_x")},
		{Content: "ok"},
	}}
	obs := &countingObserver{}
	_, err := NewDispatcher(oracle, WithObserver(obs)).Run(context.Background(), NewSession("s9", reg.MustGet("triage"), ""), "hi")
	require.NoError(t, err)
	assert.Equal(t, 2, obs.turns)
	assert.Equal(t, 2, obs.calls)
	assert.Equal(t, 1, obs.handoffs)
}

func TestRivalzTopology(t *testing.T) {
	kit := toolkit.New(toolkit.Dependencies{})

	reg, err := RivalzTopology(kit, TopologyOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{TriageAgent, OnChainAgent, FinancialAgent}, reg.Names())
	assert.ElementsMatch(t,
		[]string{toolkit.NameNetworkInfo, HandoffToOnChain, HandoffToFinancial},
		toolNames(reg.MustGet(TriageAgent)))
	assert.ElementsMatch(t,
		[]string{toolkit.NameOnChain, toolkit.NameQueryRAG, HandoffToTriage},
		toolNames(reg.MustGet(OnChainAgent)))
	assert.ElementsMatch(t,
		[]string{toolkit.NameMonitorTVL, toolkit.NameCryptoPrice, toolkit.NameQueryRAG, HandoffToTriage},
		toolNames(reg.MustGet(FinancialAgent)))

	extended, err := RivalzTopology(kit, TopologyOptions{ExtendedTools: true})
	require.NoError(t, err)
	assert.Contains(t, toolNames(extended.MustGet(TriageAgent)), toolkit.NameCreateKB)
	assert.Contains(t, toolNames(extended.MustGet(OnChainAgent)), toolkit.NameNotify)
}

func toolNames(a *Agent) []string {
	var names []string
	for _, t := range a.Tools() {
		names = append(names, t.Name())
	}
	return names
}

func TestBuildRejectsInvalidSpecs(t *testing.T) {
	_, err := Build(Spec{Name: "a"}, Spec{Name: "a"})
	assert.Error(t, err)

	_, err = Build(Spec{Name: "a", Handoffs: []Handoff{{Tool: "to_b", Target: "b"}}})
	assert.Error(t, err)

	dup := tool.NewFunc("same", "", nil, nil, nil)
	_, err = Build(Spec{Name: "a", Tools: []tool.Tool{dup, dup}})
	assert.Error(t, err)

	_, err = Build(Spec{Name: " "})
	assert.Error(t, err)
}
