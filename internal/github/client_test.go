package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/autopr/internal/config"
	"github.com/danielolaszy/autopr/internal/pipeline"
)

const repoPath = "/api/v3/repos/acme/web"

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(config.GitHubConfig{Owner: "acme", Repository: "web", Token: "ghp_test"}, WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func handleRef(mux *http.ServeMux, branch, sha string) {
	h := func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ref":    "refs/heads/" + branch,
			"object": map[string]any{"sha": sha, "type": "commit"},
		})
	}
	mux.HandleFunc("GET "+repoPath+"/git/ref/heads/"+branch, h)
	mux.HandleFunc("GET "+repoPath+"/git/refs/heads/"+branch, h)
}

func fileJSON(path, content, sha string) map[string]any {
	return map[string]any{
		"type":     "file",
		"path":     path,
		"sha":      sha,
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
	}
}

// TestAPIURL tests the conversion of a domain to the REST API root.
func TestAPIURL(t *testing.T) {
	testCases := []struct {
		name           string
		domain         string
		expectedAPIURL string
	}{
		{
			name:           "Default GitHub.com",
			domain:         "github.com",
			expectedAPIURL: "https://api.github.com/",
		},
		{
			name:           "GitHub Enterprise",
			domain:         "github.example.com",
			expectedAPIURL: "https://github.example.com/api/v3/",
		},
		{
			name:           "Empty Domain (should default to github.com)",
			domain:         "",
			expectedAPIURL: "https://api.github.com/",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := apiURL(tc.domain)
			assert.Equal(t, tc.expectedAPIURL, got)

			parsedURL, err := url.Parse(got)
			require.NoError(t, err)
			assert.Equal(t, got, parsedURL.String())
		})
	}
}

func TestNewClient_EnterpriseDomain(t *testing.T) {
	c, err := NewClient(config.GitHubConfig{Owner: "acme", Repository: "web", Token: "t", Domain: "github.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "https://github.example.com/api/v3/", c.client.BaseURL.String())

	c, err = NewClient(config.GitHubConfig{Owner: "acme", Repository: "web", Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/", c.client.BaseURL.String())
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(config.GitHubConfig{Owner: "acme", Repository: "web"})
	assert.Error(t, err)
}

func TestListOpenIssues(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("GET "+repoPath+"/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ghp_test", r.Header.Get("Authorization"))
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "bug,autopr", r.URL.Query().Get("labels"))

		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, []map[string]any{
				{"id": 3003, "number": 3, "title": "Third", "state": "open", "labels": []any{}},
			})
			return
		}

		w.Header().Set("Link", fmt.Sprintf(`<%s%s/issues?page=2>; rel="next"`, srvURL, repoPath))
		writeJSON(w, http.StatusOK, []map[string]any{
			{
				"id":         1001,
				"number":     1,
				"title":      "Login fails",
				"body":       "Stack trace attached",
				"state":      "open",
				"html_url":   "https://github.com/acme/web/issues/1",
				"created_at": "2026-03-01T10:00:00Z",
				"updated_at": "2026-03-02T10:00:00Z",
				"labels":     []map[string]any{{"name": "bug"}, {"name": "autopr"}},
			},
			{
				"id":           2002,
				"number":       2,
				"title":        "A pull request",
				"state":        "open",
				"pull_request": map[string]any{"url": "https://api.github.com/repos/acme/web/pulls/2"},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c, err := NewClient(config.GitHubConfig{Owner: "acme", Repository: "web", Token: "ghp_test"}, WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	issues, err := c.ListOpenIssues(context.Background(), []string{"bug", "autopr"})
	require.NoError(t, err)
	require.Len(t, issues, 2)

	first := issues[0]
	assert.Equal(t, int64(1001), first.ID)
	assert.Equal(t, 1, first.Number)
	assert.Equal(t, "Login fails", first.Title)
	assert.Equal(t, "Stack trace attached", first.Body)
	assert.Equal(t, []string{"bug", "autopr"}, first.Labels)
	assert.Equal(t, "acme", first.Repository.Owner)
	assert.Equal(t, "web", first.Repository.Name)
	assert.Equal(t, "https://github.com/acme/web/issues/1", first.URL)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), first.CreatedAt.UTC())

	assert.Equal(t, 3, issues[1].Number)
	assert.Empty(t, issues[1].Key)
}

func TestListOpenIssues_Error(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+repoPath+"/issues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"})
	})
	c := newTestClient(t, mux)

	_, err := c.ListOpenIssues(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrUpstream)

	var upstream *pipeline.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusUnauthorized, upstream.StatusCode)
	assert.Equal(t, "Bad credentials", upstream.Body)
}

func TestDefaultBranch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+repoPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"name": "web", "default_branch": "develop"})
	})
	c := newTestClient(t, mux)

	branch, err := c.DefaultBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "develop", branch)
}

func TestListFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+repoPath+"/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		writeJSON(w, http.StatusOK, map[string]any{
			"sha": "tree1",
			"tree": []map[string]any{
				{"path": "cmd", "type": "tree"},
				{"path": "cmd/main.go", "type": "blob"},
				{"path": "README.md", "type": "blob"},
				{"path": "vendor/lib", "type": "commit"},
			},
		})
	})
	c := newTestClient(t, mux)

	files, err := c.ListFiles(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd/main.go", "README.md"}, files)
}

func TestGetFileContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+repoPath+"/contents/internal/auth.go", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "autopr-fix-1", r.URL.Query().Get("ref"))
		writeJSON(w, http.StatusOK, fileJSON("internal/auth.go", "package auth\n", "sha1"))
	})
	mux.HandleFunc("GET "+repoPath+"/contents/missing.go", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
	})
	mux.HandleFunc("GET "+repoPath+"/contents/broken.go", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Server Error"})
	})
	c := newTestClient(t, mux)

	content, err := c.GetFileContent(context.Background(), "internal/auth.go", "autopr-fix-1")
	require.NoError(t, err)
	assert.Equal(t, "package auth\n", content)

	content, err = c.GetFileContent(context.Background(), "missing.go", "main")
	require.NoError(t, err)
	assert.Empty(t, content)

	_, err = c.GetFileContent(context.Background(), "broken.go", "main")
	assert.ErrorIs(t, err, pipeline.ErrUpstream)
}

func TestCreateBranch(t *testing.T) {
	mux := http.NewServeMux()
	handleRef(mux, "main", "abc123")

	var got map[string]any
	mux.HandleFunc("POST "+repoPath+"/git/refs", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, map[string]any{
			"ref":    got["ref"],
			"object": map[string]any{"sha": got["sha"]},
		})
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.CreateBranch(context.Background(), "autopr-fix-42", "main"))
	assert.Equal(t, "refs/heads/autopr-fix-42", got["ref"])
	assert.Equal(t, "abc123", got["sha"])
}

func TestCreateBranch_AlreadyExists(t *testing.T) {
	mux := http.NewServeMux()
	handleRef(mux, "main", "abc123")
	mux.HandleFunc("POST "+repoPath+"/git/refs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "Reference already exists"})
	})
	c := newTestClient(t, mux)

	err := c.CreateBranch(context.Background(), "autopr-fix-42", "main")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrBranchExists)
	assert.ErrorIs(t, err, pipeline.ErrUpstream)
}

func TestCreateBranch_OtherValidationFailure(t *testing.T) {
	mux := http.NewServeMux()
	handleRef(mux, "main", "abc123")
	mux.HandleFunc("POST "+repoPath+"/git/refs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "Invalid request"})
	})
	c := newTestClient(t, mux)

	err := c.CreateBranch(context.Background(), "bad..name", "main")
	require.ErrorIs(t, err, pipeline.ErrUpstream)
	assert.NotErrorIs(t, err, pipeline.ErrBranchExists)
}

func TestResetBranch(t *testing.T) {
	mux := http.NewServeMux()
	handleRef(mux, "main", "def456")

	var got map[string]any
	mux.HandleFunc("PATCH "+repoPath+"/git/refs/heads/autopr-fix-42", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"ref":    "refs/heads/autopr-fix-42",
			"object": map[string]any{"sha": "def456"},
		})
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.ResetBranch(context.Background(), "autopr-fix-42", "main"))
	assert.Equal(t, "def456", got["sha"])
	assert.Equal(t, true, got["force"])
}

func TestWriteFile(t *testing.T) {
	tests := []struct {
		name    string
		exists  bool
		wantSHA any
	}{
		{name: "create", exists: false, wantSHA: nil},
		{name: "update", exists: true, wantSHA: "oldsha"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET "+repoPath+"/contents/auth.go", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "autopr-fix-42", r.URL.Query().Get("ref"))
				if !tt.exists {
					writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
					return
				}
				writeJSON(w, http.StatusOK, fileJSON("auth.go", "old", "oldsha"))
			})

			var got map[string]any
			mux.HandleFunc("PUT "+repoPath+"/contents/auth.go", func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				writeJSON(w, http.StatusCreated, map[string]any{
					"content": fileJSON("auth.go", "", "newsha"),
					"commit":  map[string]any{"sha": "commit1"},
				})
			})
			c := newTestClient(t, mux)

			err := c.WriteFile(context.Background(), "auth.go", "package auth\n", "autopr-fix-42", "Fix #42: nil session")
			require.NoError(t, err)

			assert.Equal(t, "Fix #42: nil session", got["message"])
			assert.Equal(t, "autopr-fix-42", got["branch"])
			assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("package auth\n")), got["content"])
			assert.Equal(t, tt.wantSHA, got["sha"])
		})
	}
}

func TestOpenPullRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+repoPath+"/pulls", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "autopr-fix-42", body["head"])
		assert.Equal(t, "main", body["base"])
		assert.Equal(t, "Fix #42: Login fails", body["title"])

		writeJSON(w, http.StatusCreated, map[string]any{
			"number":   7,
			"html_url": "https://github.com/acme/web/pull/7",
			"state":    "open",
		})
	})
	c := newTestClient(t, mux)

	pr, err := c.OpenPullRequest(context.Background(), "Fix #42: Login fails", "body", "autopr-fix-42", "main")
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "https://github.com/acme/web/pull/7", pr.URL)
	assert.Equal(t, "open", pr.State)
}

func TestOpenPullRequest_Failure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+repoPath+"/pulls", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Validation Failed",
			"errors":  []map[string]any{{"resource": "PullRequest", "code": "custom", "message": "A pull request already exists"}},
		})
	})
	c := newTestClient(t, mux)

	_, err := c.OpenPullRequest(context.Background(), "t", "b", "autopr-fix-42", "main")

	var upstream *pipeline.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusUnprocessableEntity, upstream.StatusCode)
	assert.Contains(t, upstream.Body, "A pull request already exists")
}

func TestNewClient_AppAuth_BadKeyPath(t *testing.T) {
	_, err := NewClient(config.GitHubConfig{
		Owner:      "acme",
		Repository: "web",
		App: config.AppConfig{
			ClientID:       "Iv23liABC",
			InstallationID: 12345,
			PrivateKeyPath: "/nonexistent/key.pem",
		},
	})
	assert.Error(t, err)
}

func TestNewClient_AppAuth_BadKeyContent(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(keyFile, []byte("not a valid PEM key"), 0600))

	_, err := NewClient(config.GitHubConfig{
		Owner:      "acme",
		Repository: "web",
		App: config.AppConfig{
			ClientID:       "Iv23liABC",
			InstallationID: 12345,
			PrivateKeyPath: keyFile,
		},
	})
	assert.Error(t, err)
}

func TestNewClient_AppAuth_UsesInstallationToken(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "app.pem")
	require.NoError(t, os.WriteFile(keyFile, generateTestKey(t), 0600))

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/app/installations/12345/access_tokens" {
			writeJSON(w, http.StatusCreated, map[string]any{
				"token":      "ghs_installtoken123",
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			})
			return
		}
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{"default_branch": "main"})
	}))
	defer srv.Close()

	c, err := NewClient(config.GitHubConfig{
		Owner:      "acme",
		Repository: "web",
		Token:      "ignored",
		App: config.AppConfig{
			ClientID:       "Iv23liABC",
			InstallationID: 12345,
			PrivateKeyPath: keyFile,
		},
	}, WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	_, err = c.DefaultBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token ghs_installtoken123", gotAuth)
}

func generateTestKey(t *testing.T) []byte {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(k),
	})
}
