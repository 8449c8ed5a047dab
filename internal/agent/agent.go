package agent

import (
	"context"
	"fmt"
	"strings"

	"Rivalz-Swarm/internal/llm"
	"Rivalz-Swarm/internal/tool"
)

// Agent 是具名的智能体：一段指令与一组按名称唯一的工具。构建完成后不可修改。
type Agent struct {
	name         string
	instructions string
	tools        []tool.Tool
	index        map[string]tool.Tool
}

// Name 返回智能体名称，同时使 Agent 满足 tool.Target。
func (a *Agent) Name() string { return a.name }

// Instructions 返回智能体的系统指令。
func (a *Agent) Instructions() string { return a.instructions }

// Tools 返回工具列表的副本。
func (a *Agent) Tools() []tool.Tool {
	out := make([]tool.Tool, len(a.tools))
	copy(out, a.tools)
	return out
}

// Tool 按名称查找工具。
func (a *Agent) Tool(name string) (tool.Tool, bool) {
	t, ok := a.index[name]
	return t, ok
}

// ToolSpecs 返回提供给模型的函数描述。
func (a *Agent) ToolSpecs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(a.tools))
	for _, t := range a.tools {
		specs = append(specs, llm.ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return specs
}

// Handoff 描述一个交接函数：调用 Tool 会把会话转交给名为 Target 的智能体。
type Handoff struct {
	Tool        string
	Target      string
	Description string
}

// Spec 是构建单个智能体所需的全部信息。
type Spec struct {
	Name         string
	Instructions string
	Tools        []tool.Tool
	Handoffs     []Handoff
}

// Registry 保存按名称索引的智能体。
type Registry struct {
	agents map[string]*Agent
	order  []string
}

// Build 一次性构建全部智能体及其最终工具集，交接目标按名称解析，允许相互引用。
func Build(specs ...Spec) (*Registry, error) {
	reg := &Registry{agents: make(map[string]*Agent, len(specs))}
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("智能体名称不能为空")
		}
		if _, exists := reg.agents[name]; exists {
			return nil, fmt.Errorf("智能体 %s 重复定义", name)
		}
		reg.agents[name] = &Agent{name: name, instructions: spec.Instructions}
		reg.order = append(reg.order, name)
	}

	for _, spec := range specs {
		ag := reg.agents[strings.TrimSpace(spec.Name)]
		tools := make([]tool.Tool, 0, len(spec.Tools)+len(spec.Handoffs))
		tools = append(tools, spec.Tools...)
		for _, h := range spec.Handoffs {
			target, ok := reg.agents[h.Target]
			if !ok {
				return nil, fmt.Errorf("智能体 %s 的交接目标 %s 不存在", ag.name, h.Target)
			}
			tools = append(tools, handoffTool(h, target))
		}

		index := make(map[string]tool.Tool, len(tools))
		for _, t := range tools {
			if t == nil {
				return nil, fmt.Errorf("智能体 %s 包含空工具", ag.name)
			}
			if _, dup := index[t.Name()]; dup {
				return nil, fmt.Errorf("智能体 %s 的工具 %s 重复", ag.name, t.Name())
			}
			index[t.Name()] = t
		}
		ag.tools = tools
		ag.index = index
	}
	return reg, nil
}

func handoffTool(h Handoff, target *Agent) tool.Tool {
	desc := h.Description
	if desc == "" {
		desc = "Transfer the conversation to the " + target.name + "."
	}
	return tool.NewFunc(h.Tool, desc, nil, nil, func(_ context.Context, _ tool.Env, _ tool.Args) tool.Result {
		return tool.Handoff(target)
	})
}

// Get 按名称获取智能体。
func (r *Registry) Get(name string) (*Agent, bool) {
	if r == nil {
		return nil, false
	}
	ag, ok := r.agents[name]
	return ag, ok
}

// MustGet 与 Get 相同，但在智能体不存在时 panic，仅用于装配阶段。
func (r *Registry) MustGet(name string) *Agent {
	ag, ok := r.Get(name)
	if !ok {
		panic("agent: unknown agent " + name)
	}
	return ag
}

// Names 按定义顺序返回智能体名称。
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
