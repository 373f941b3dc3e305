package testhelpers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-github/v62/github"
)

// MockGitHubServerConfig configures the behavior of a mock GitHub server
// for one repository
type MockGitHubServerConfig struct {
	Owner string
	Repo  string
	// Missing makes every request for the repository return 404
	Missing bool

	Branches []string
	// Files maps "ref:path" to file content
	Files map[string]string
	// PRs maps pull request numbers to pull requests
	PRs map[int]*github.PullRequest

	// Recorded writes
	Comments map[int][]string
	Statuses map[string][]*github.RepoStatus

	// ErrorResponses maps "METHOD /path" to a status code
	ErrorResponses map[string]int

	mu sync.Mutex
}

// NewMockGitHubServerConfig creates a new mock server config with defaults
func NewMockGitHubServerConfig(owner, repo string) *MockGitHubServerConfig {
	return &MockGitHubServerConfig{
		Owner:          owner,
		Repo:           repo,
		Files:          make(map[string]string),
		PRs:            make(map[int]*github.PullRequest),
		Comments:       make(map[int][]string),
		Statuses:       make(map[string][]*github.RepoStatus),
		ErrorResponses: make(map[string]int),
	}
}

// AddPR stores pr under its number
func (c *MockGitHubServerConfig) AddPR(pr *github.PullRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PRs[pr.GetNumber()] = pr
}

// NewMockGitHubServer creates an httptest server that mocks the GitHub API
// endpoints used by the forge backend
func NewMockGitHubServer(t *testing.T, config *MockGitHubServerConfig) *httptest.Server {
	t.Helper()
	repoPath := "/repos/" + config.Owner + "/" + config.Repo

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+repoPath, func(w http.ResponseWriter, _ *http.Request) {
		writeGitHubJSON(w, http.StatusOK, &github.Repository{
			Name:     github.String(config.Repo),
			FullName: github.String(config.Owner + "/" + config.Repo),
		})
	})

	mux.HandleFunc("GET "+repoPath+"/branches", func(w http.ResponseWriter, _ *http.Request) {
		branches := make([]*github.Branch, 0, len(config.Branches))
		for _, name := range config.Branches {
			branches = append(branches, &github.Branch{Name: github.String(name)})
		}
		writeGitHubJSON(w, http.StatusOK, branches)
	})

	mux.HandleFunc("GET "+repoPath+"/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		content, ok := config.Files[r.URL.Query().Get("ref")+":"+r.PathValue("path")]
		if !ok {
			writeGitHubError(w, http.StatusNotFound)
			return
		}
		writeGitHubJSON(w, http.StatusOK, &github.RepositoryContent{
			Type:     github.String("file"),
			Path:     github.String(r.PathValue("path")),
			Encoding: github.String("base64"),
			Content:  github.String(base64.StdEncoding.EncodeToString([]byte(content))),
		})
	})

	mux.HandleFunc("GET "+repoPath+"/pulls/{number}", func(w http.ResponseWriter, r *http.Request) {
		config.mu.Lock()
		defer config.mu.Unlock()
		pr, ok := config.PRs[pathNumber(r)]
		if !ok {
			writeGitHubError(w, http.StatusNotFound)
			return
		}
		writeGitHubJSON(w, http.StatusOK, pr)
	})

	mux.HandleFunc("GET "+repoPath+"/pulls", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		config.mu.Lock()
		defer config.mu.Unlock()

		var matches []*github.PullRequest
		for _, number := range sortedNumbers(config.PRs) {
			pr := config.PRs[number]
			if state := query.Get("state"); state != "" && state != "all" && pr.GetState() != state {
				continue
			}
			if head := query.Get("head"); head != "" && config.Owner+":"+pr.GetHead().GetRef() != head {
				continue
			}
			if base := query.Get("base"); base != "" && pr.GetBase().GetRef() != base {
				continue
			}
			matches = append(matches, pr)
		}
		writeGitHubJSON(w, http.StatusOK, matches)
	})

	mux.HandleFunc("POST "+repoPath+"/pulls", func(w http.ResponseWriter, r *http.Request) {
		var req github.NewPullRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		config.mu.Lock()
		defer config.mu.Unlock()

		number := len(config.PRs) + 1
		pr := NewSamplePullRequest(SamplePRData{
			Number:  number,
			Title:   req.GetTitle(),
			Body:    req.GetBody(),
			Head:    req.GetHead(),
			Base:    req.GetBase(),
			HTMLURL: fmt.Sprintf("https://github.com/%s/%s/pull/%d", config.Owner, config.Repo, number),
			State:   "open",
		})
		config.PRs[number] = pr
		writeGitHubJSON(w, http.StatusCreated, pr)
	})

	mux.HandleFunc("PATCH "+repoPath+"/pulls/{number}", func(w http.ResponseWriter, r *http.Request) {
		var update struct {
			State *string `json:"state,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		config.mu.Lock()
		defer config.mu.Unlock()
		pr, ok := config.PRs[pathNumber(r)]
		if !ok {
			writeGitHubError(w, http.StatusNotFound)
			return
		}
		if update.State != nil {
			pr.State = update.State
		}
		writeGitHubJSON(w, http.StatusOK, pr)
	})

	mux.HandleFunc("POST "+repoPath+"/issues/{number}/comments", func(w http.ResponseWriter, r *http.Request) {
		var comment github.IssueComment
		if err := json.NewDecoder(r.Body).Decode(&comment); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		number := pathNumber(r)
		config.mu.Lock()
		config.Comments[number] = append(config.Comments[number], comment.GetBody())
		config.mu.Unlock()
		writeGitHubJSON(w, http.StatusCreated, &comment)
	})

	mux.HandleFunc("POST "+repoPath+"/statuses/{sha}", func(w http.ResponseWriter, r *http.Request) {
		var status github.RepoStatus
		if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sha := r.PathValue("sha")
		config.mu.Lock()
		config.Statuses[sha] = append(config.Statuses[sha], &status)
		config.mu.Unlock()
		writeGitHubJSON(w, http.StatusCreated, &status)
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code, ok := config.ErrorResponses[r.Method+" "+r.URL.Path]; ok {
			writeGitHubError(w, code)
			return
		}
		if config.Missing && strings.HasPrefix(r.URL.Path, repoPath) {
			writeGitHubError(w, http.StatusNotFound)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func pathNumber(r *http.Request) int {
	number, _ := strconv.Atoi(r.PathValue("number"))
	return number
}

func sortedNumbers(prs map[int]*github.PullRequest) []int {
	numbers := make([]int, 0, len(prs))
	for number := range prs {
		numbers = append(numbers, number)
	}
	sort.Ints(numbers)
	return numbers
}

func writeGitHubJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeGitHubError(w http.ResponseWriter, code int) {
	writeGitHubJSON(w, code, map[string]string{"message": http.StatusText(code)})
}
