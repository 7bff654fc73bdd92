package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	apiKey     string
	questionID int
	submitter  string
	name       string
	answers    []string
	minScore   int
	limit      int
	stream     bool
)

func main() {
	root := &cobra.Command{
		Use:          "grader-cli",
		Short:        "CLI client for exam-grader",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("GRADER_URL", "http://localhost:8080"), "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("GRADER_API_KEY"), "API key")

	gradeCmd := &cobra.Command{
		Use:   "grade [file]",
		Short: "Grade a solution against every test of a question",
		Args:  cobra.MaximumNArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runGrade("/grade", args) },
	}
	gradeCmd.Flags().IntVarP(&questionID, "question", "q", 0, "Question ID")
	_ = gradeCmd.MarkFlagRequired("question")
	root.AddCommand(gradeCmd)

	testCmd := &cobra.Command{
		Use:   "test [file]",
		Short: "Run a solution against the first few tests only",
		Args:  cobra.MaximumNArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runGrade("/test-code", args) },
	}
	testCmd.Flags().IntVarP(&questionID, "question", "q", 0, "Question ID")
	_ = testCmd.MarkFlagRequired("question")
	root.AddCommand(testCmd)

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a full exam attempt",
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVar(&submitter, "submitter", "", "Roll number or username")
	submitCmd.Flags().StringVar(&name, "name", "", "Display name")
	submitCmd.Flags().StringArrayVarP(&answers, "answer", "a", nil, "Answer as QUESTION=FILE, repeatable")
	submitCmd.Flags().BoolVar(&stream, "stream", false, "Print per-question results as they finish")
	_ = submitCmd.MarkFlagRequired("submitter")
	root.AddCommand(submitCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show worker pool status",
		RunE:  func(cmd *cobra.Command, args []string) error { return getAndPrint("/pool/status") },
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  func(cmd *cobra.Command, args []string) error { return getAndPrint("/health") },
	})

	root.AddCommand(&cobra.Command{
		Use:   "questions",
		Short: "List questions with starter stubs",
		RunE:  func(cmd *cobra.Command, args []string) error { return getAndPrint("/questions") },
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions, best score first",
		RunE:  runList,
	}
	listCmd.Flags().IntVar(&minScore, "min-score", 0, "Only submissions scoring at least this")
	listCmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	root.AddCommand(listCmd)

	root.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete every submission so the exam can be retaken",
		RunE:  runReset,
	})

	root.AddCommand(&cobra.Command{
		Use:   "delete <submission-id>",
		Short: "Delete one submission so its submitter can retake the exam",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	})

	root.AddCommand(synthCmd(), analyzeCmd(), enqueueCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGrade(path string, args []string) error {
	code, err := readSource(args)
	if err != nil {
		return err
	}
	return postAndPrint(path, map[string]any{"question_id": questionID, "code": code})
}

func runSubmit(_ *cobra.Command, _ []string) error {
	parsed := make(map[int]string, len(answers))
	for _, a := range answers {
		q, file, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("answer %q: want QUESTION=FILE", a)
		}
		id, err := strconv.Atoi(q)
		if err != nil {
			return fmt.Errorf("answer %q: bad question ID", a)
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading answer for question %d: %w", id, err)
		}
		parsed[id] = string(data)
	}

	payload := map[string]any{
		"submitter": submitter,
		"name":      name,
		"answers":   parsed,
	}
	if stream {
		return streamSubmit(payload)
	}
	return postAndPrint("/submissions", payload)
}

func runList(_ *cobra.Command, _ []string) error {
	q := url.Values{}
	if minScore > 0 {
		q.Set("min_score", strconv.Itoa(minScore))
	}
	q.Set("limit", strconv.Itoa(limit))
	return getAndPrint("/submissions?" + q.Encode())
}

func runReset(_ *cobra.Command, _ []string) error {
	req, err := newRequest(http.MethodDelete, "/submissions", nil)
	if err != nil {
		return err
	}
	return doAndPrint(req, 30*time.Second)
}

func runDelete(_ *cobra.Command, args []string) error {
	req, err := newRequest(http.MethodDelete, "/submissions/"+url.PathEscape(args[0]), nil)
	if err != nil {
		return err
	}
	return doAndPrint(req, 10*time.Second)
}

func streamSubmit(payload any) error {
	body, _ := json.Marshal(payload)
	req, err := newRequest(http.MethodPost, "/submissions/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := (&http.Client{Timeout: 90 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return printBody(resp)
	}

	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func readSource(args []string) (string, error) {
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("reading file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, strings.TrimSuffix(serverURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	return req, nil
}

func postAndPrint(path string, payload any) error {
	body, _ := json.Marshal(payload)
	req, err := newRequest(http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	return doAndPrint(req, 90*time.Second)
}

func getAndPrint(path string) error {
	req, err := newRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return doAndPrint(req, 10*time.Second)
}

func doAndPrint(req *http.Request, timeout time.Duration) error {
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return printBody(resp)
}

// printBody pretty prints a JSON response and fails on a non-2xx status.
func printBody(resp *http.Response) error {
	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response (%s): %w", resp.Status, err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 300 {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return fmt.Errorf("server returned %s, retry after %ss", resp.Status, ra)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
