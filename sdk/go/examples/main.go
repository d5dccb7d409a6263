package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"PlanPilot/sdk/go/planpilot"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(planpilot.Token{AccessToken: "demo-token", ExpiresIn: 3600, TokenType: "Bearer"})
	})
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(planpilot.Run{
				ID:     "run-demo",
				Goal:   "Write AI blog post",
				Status: "PENDING",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/runs/run-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(planpilot.Run{
			ID:     "run-demo",
			Goal:   "Write AI blog post",
			Status: "SUCCEEDED",
			Result: &planpilot.Outcome{
				Steps: []planpilot.StepOutcome{
					{Step: "Research Write AI blog post", Succeeded: true},
					{Step: "Draft outline for Write AI blog post", Succeeded: true},
					{Step: "Create final output for Write AI blog post", Succeeded: false},
				},
				Retries:     []string{"Create final output for Write AI blog post"},
				Total:       3,
				Successful:  2,
				Failed:      1,
				SuccessRate: 2.0 / 3.0,
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := planpilot.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := client.Authenticate(ctx, planpilot.Credentials{GrantType: "password", Username: "demo", Password: "secret"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("authenticated with token %s\n", token.AccessToken)

	run, err := client.SubmitRun(ctx, planpilot.RunSubmission{Goal: "Write AI blog post"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted run %s (status=%s)\n", run.ID, run.Status)

	detail, err := client.GetRun(ctx, run.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("retrieved run %s success_rate=%.2f\n", detail.ID, detail.Result.SuccessRate)
}
