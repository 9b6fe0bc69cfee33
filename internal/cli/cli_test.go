package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/safetywatch/internal/api"
	"github.com/terminal-bench/safetywatch/internal/risk"
	"github.com/terminal-bench/safetywatch/internal/storage"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "safetyd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

type scoreOutput struct {
	Result risk.Result `json:"result"`
	Tier   string      `json:"tier"`
	Label  string      `json:"label"`
}

func TestScoreCmd(t *testing.T) {
	t.Run("should score a quiet day with no check-in as elevated", func(t *testing.T) {
		out, err := run(t, "score", "--screen-time", "10", "--opens", "1", "--no-location")
		require.NoError(t, err)

		var got scoreOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, 7, got.Result.RiskLevel)
		assert.Equal(t, risk.SourceFallback, got.Result.Source)
		assert.Equal(t, "REMINDER", got.Tier)
		assert.Equal(t, "주의", got.Label)
	})

	t.Run("should score a recent check-in with normal usage as safe", func(t *testing.T) {
		out, err := run(t, "score", "--screen-time", "120", "--opens", "12", "--hours-since-checkin", "2")
		require.NoError(t, err)

		var got scoreOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, 0, got.Result.RiskLevel)
		assert.Equal(t, "SAFE", got.Tier)
	})

	t.Run("should escalate a two-day silence to emergency", func(t *testing.T) {
		out, err := run(t, "score", "--screen-time", "100", "--opens", "10", "--hours-since-checkin", "50", "--no-location")
		require.NoError(t, err)

		var got scoreOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, 7, got.Result.RiskLevel)

		out, err = run(t, "score", "--screen-time", "5", "--opens", "10", "--hours-since-checkin", "50")
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, 8, got.Result.RiskLevel)
		assert.Equal(t, "EMERGENCY", got.Tier)
	})

	t.Run("should reject negative counters", func(t *testing.T) {
		_, err := run(t, "score", "--opens", "-1")
		assert.Error(t, err)
	})
}

func TestCheckCmd(t *testing.T) {
	t.Run("should run one remote cycle and persist it", func(t *testing.T) {
		scorer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"risk_level":6,"confidence":0.9,"risk_factors":["late"],"recommendations":["연락해 보세요"]}`))
		}))
		defer scorer.Close()

		dbPath := filepath.Join(t.TempDir(), "safety.db")
		path := writeConfig(t, strings.Join([]string{
			"user_id: user-1",
			"scorer:",
			"  url: " + scorer.URL,
			"  timeout: 2s",
			"storage:",
			"  driver: sqlite",
			"  dsn: " + dbPath,
			"logging:",
			"  level: error",
		}, "\n"))

		out, err := run(t, "--config", path, "check")
		require.NoError(t, err)

		var got scoreOutput
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, 6, got.Result.RiskLevel)
		assert.Equal(t, risk.SourceRemote, got.Result.Source)
		assert.Equal(t, "REMINDER", got.Tier)

		store, err := storage.OpenSQL(context.Background(), storage.DriverSQLite, dbPath)
		require.NoError(t, err)
		defer store.Close()
		rec, err := store.Load(context.Background(), "user-1")
		require.NoError(t, err)
		require.Len(t, rec.History, 1)
		assert.Equal(t, 6, rec.History[0].RiskLevel)
	})

	t.Run("should fail on an invalid config", func(t *testing.T) {
		path := writeConfig(t, "scorer:\n  url: ftp://nope\n")

		_, err := run(t, "--config", path, "check")
		assert.Error(t, err)
	})
}

func TestTokenCmd(t *testing.T) {
	t.Run("should issue a token the API accepts", func(t *testing.T) {
		path := writeConfig(t, "user_id: user-1\nscorer:\n  url: http://scorer.local\nserver:\n  jwt_secret: s3cret\n")

		out, err := run(t, "--config", path, "token", "--ttl", "1h")
		require.NoError(t, err)

		claims, err := api.NewAuthenticator("s3cret").VerifyToken(strings.TrimSpace(out))
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
	})

	t.Run("should refuse without a secret", func(t *testing.T) {
		path := writeConfig(t, "scorer:\n  url: http://scorer.local\n")

		_, err := run(t, "--config", path, "token")
		assert.Error(t, err)
	})
}
