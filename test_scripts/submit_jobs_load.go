package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// jobStatus is the subset of the job descriptor the load test reads
type jobStatus struct {
	JobID          string  `json:"job_id"`
	Status         string  `json:"status"`
	TotalCount     int     `json:"total_count"`
	ProcessedCount int     `json:"processed_count"`
	ErrorMessage   *string `json:"error_message"`
}

func postJSON(url string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func getStatus(baseURL, jobID string) (*jobStatus, error) {
	resp, err := http.Get(baseURL + "/batch/jobs/" + jobID + "/status")
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// createCollection registers a uniquely named collection and returns its id
func createCollection(baseURL, prefix string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	name := fmt.Sprintf("%s %d", prefix, time.Now().UnixNano())
	if err := postJSON(baseURL+"/collections", map[string]string{"collection_name": name}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func randomIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = rand.Int63n(100000) + 1
	}
	return ids
}

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run test_scripts/submit_jobs_load.go <number_of_jobs> <ids_per_job> [server_url]")
		fmt.Println("Example: go run test_scripts/submit_jobs_load.go 20 500")
		fmt.Println("Example: go run test_scripts/submit_jobs_load.go 20 500 http://localhost:8080")
		os.Exit(1)
	}

	numJobs, err := strconv.Atoi(os.Args[1])
	if err != nil || numJobs <= 0 {
		fmt.Printf("Error: Invalid number of jobs '%s'\n", os.Args[1])
		os.Exit(1)
	}
	idsPerJob, err := strconv.Atoi(os.Args[2])
	if err != nil || idsPerJob < 0 {
		fmt.Printf("Error: Invalid ids per job '%s'\n", os.Args[2])
		os.Exit(1)
	}

	serverURL := "http://localhost:8080"
	if len(os.Args) >= 4 {
		serverURL = os.Args[3]
	}

	source, err := createCollection(serverURL, "Load Source")
	if err != nil {
		fmt.Printf("Error creating source collection: %v\n", err)
		os.Exit(1)
	}
	target, err := createCollection(serverURL, "Load Target")
	if err != nil {
		fmt.Printf("Error creating target collection: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Submitting %d jobs of %d ids to %s\n", numJobs, idsPerJob, serverURL)
	startTime := time.Now()

	var jobIDs []string
	submitErrors := 0
	for i := 0; i < numJobs; i++ {
		var job jobStatus
		var err error
		ids := randomIDs(idsPerJob)
		if i%4 == 3 {
			err = postJSON(serverURL+"/batch/delete-companies", map[string]interface{}{
				"collection_id": target,
				"company_ids":   ids,
			}, &job)
		} else {
			err = postJSON(serverURL+"/batch/add-companies", map[string]interface{}{
				"source_collection_id": source,
				"target_collection_id": target,
				"company_ids":          ids,
			}, &job)
		}
		if err != nil {
			submitErrors++
			fmt.Printf("Error submitting job %d: %v\n", i+1, err)
			continue
		}
		jobIDs = append(jobIDs, job.JobID)
	}
	submitTime := time.Since(startTime)
	fmt.Printf("Submitted %d jobs in %v\n", len(jobIDs), submitTime)

	// Poll until every job reaches a terminal status
	finished := make(map[string]*jobStatus)
	for len(finished) < len(jobIDs) {
		for _, id := range jobIDs {
			if _, done := finished[id]; done {
				continue
			}
			status, err := getStatus(serverURL, id)
			if err != nil {
				fmt.Printf("Error polling job %s: %v\n", id, err)
				continue
			}
			switch status.Status {
			case "COMPLETED", "FAILED", "CANCELLED":
				finished[id] = status
			}
		}
		fmt.Printf("Progress: %d/%d jobs finished\n", len(finished), len(jobIDs))
		if len(finished) < len(jobIDs) {
			time.Sleep(250 * time.Millisecond)
		}
	}

	counts := make(map[string]int)
	for _, status := range finished {
		counts[status.Status]++
		if status.ErrorMessage != nil {
			fmt.Printf("Job %s failed: %s\n", status.JobID, *status.ErrorMessage)
		}
	}

	totalTime := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("LOAD TEST COMPLETE")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Jobs submitted:  %d\n", len(jobIDs))
	fmt.Printf("Submit errors:   %d\n", submitErrors)
	fmt.Printf("Completed:       %d\n", counts["COMPLETED"])
	fmt.Printf("Failed:          %d\n", counts["FAILED"])
	fmt.Printf("Cancelled:       %d\n", counts["CANCELLED"])
	fmt.Printf("Total time:      %v\n", totalTime)
	fmt.Printf("Ids per second:  %.2f\n", float64(len(jobIDs)*idsPerJob)/totalTime.Seconds())

	if submitErrors > 0 || counts["FAILED"] > 0 {
		os.Exit(1)
	}
	fmt.Println("\nLoad test completed successfully!")
}
