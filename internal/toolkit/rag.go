package toolkit

import (
	"context"
	"fmt"

	"Rivalz-Swarm/internal/tool"
)

// RAGAnswer 是知识库问答的结果。
type RAGAnswer struct {
	Status   string   `json:"status"`
	Response string   `json:"response"`
	Context  []string `json:"context"`
}

// QueryKnowledgeBase 在 env 当前的知识库上发起问答。
func QueryKnowledgeBase(ctx context.Context, store KnowledgeStore, env tool.Env, query string) tool.Result {
	kbID := ""
	if env != nil {
		kbID = env.KnowledgeBaseID()
	}
	if kbID == "" || store == nil {
		return tool.Failure("Knowledge base not initialized", "")
	}
	resp, err := store.CreateChatSession(ctx, kbID, query, "")
	if err != nil {
		return tool.Failure("RAG Query Error", fmt.Sprintf("RAG query failed: %v", err))
	}
	answer := RAGAnswer{Status: "success", Response: "No response", Context: []string{}}
	if resp.Response != nil {
		answer.Response = *resp.Response
	}
	if resp.Context != nil {
		answer.Context = resp.Context
	}
	return tool.Success(answer)
}

// NewQueryRAGTool 创建 query_rag_knowledge_base 工具。
func NewQueryRAGTool(store KnowledgeStore) tool.Tool {
	return tool.NewFunc(NameQueryRAG,
		"Query the RAG knowledge base with a specific query and return a contextual response.",
		map[string]any{"query": tool.StringParam("User's query")},
		[]string{"query"},
		func(ctx context.Context, env tool.Env, args tool.Args) tool.Result {
			return QueryKnowledgeBase(ctx, store, env, args.String("query", ""))
		})
}

// NewCreateKBTool 创建 create_rag_knowledge_base 工具。成功后新知识库成为当前会话的检索目标。
func NewCreateKBTool(store KnowledgeStore) tool.Tool {
	return tool.NewFunc(NameCreateKB,
		"Create a RAG knowledge base from a document.",
		map[string]any{
			"document_path":       tool.StringParam("Path to the document for the knowledge base"),
			"knowledge_base_name": tool.StringParam("Name of the knowledge base"),
		},
		[]string{"document_path", "knowledge_base_name"},
		func(ctx context.Context, env tool.Env, args tool.Args) tool.Result {
			if store == nil {
				return tool.Failure("Knowledge Base Error", "Failed to create knowledge base: knowledge store is not configured")
			}
			kb, err := store.CreateKnowledgeBase(ctx, args.String("document_path", ""), args.String("knowledge_base_name", ""))
			if err != nil {
				return tool.Failure("Knowledge Base Error", fmt.Sprintf("Failed to create knowledge base: %v", err))
			}
			if env != nil {
				env.SetKnowledgeBaseID(kb.ID)
			}
			return tool.Success(map[string]string{
				"status":            "success",
				"knowledge_base_id": kb.ID,
				"message":           "Knowledge base created successfully",
			})
		})
}
