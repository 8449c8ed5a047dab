package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"Rivalz-Swarm/sdk/go/rivalz"
)

// main runs the SDK against an in-process stand-in for rivalzd.
func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		var req rivalz.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(rivalz.ChatReply{
			SessionID: "demo-session",
			Created:   req.SessionID == "",
			Agent:     "Financial Analyst Agent",
			Response:  "The current price of BTC is $64000 USD.",
			Turns:     3,
		})
	})
	mux.HandleFunc("/query/", func(w http.ResponseWriter, r *http.Request) {
		var req rivalz.QueryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(rivalz.QueryResponse{
			Query:    req.Query,
			Response: "Rivalz is building the data layer for AI agents.",
			Context:  []string{"whitepaper.pdf#3"},
		})
	})
	mux.HandleFunc("/api/v1/setup", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(rivalz.SetupJob{ID: "setup-demo", Trigger: "api", Status: "pending", MaxRetries: 1})
	})
	mux.HandleFunc("/api/v1/setup/setup-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rivalz.SetupJob{
			ID:         "setup-demo",
			Status:     "succeeded",
			Attempts:   1,
			MaxRetries: 1,
			Result:     &rivalz.SetupResult{KnowledgeBaseID: "kb-demo", Ready: true},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := rivalz.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAPIKey("demo-admin-key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := client.SubmitSetup(ctx, rivalz.SetupRequest{DocumentsDir: "./documents"})
	if err != nil {
		panic(err)
	}
	job, err = client.WaitForSetup(ctx, job.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("setup %s finished: status=%s kb=%s\n", job.ID, job.Status, job.Result.KnowledgeBaseID)

	reply, err := client.Chat(ctx, rivalz.ChatRequest{Message: "What is the price of BTC?"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("[%s] %s (session=%s)\n", reply.Agent, reply.Response, reply.SessionID)

	answer, err := client.Query(ctx, rivalz.QueryRequest{Query: "What is Rivalz?"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("rag: %s %v\n", answer.Response, answer.Context)
}
