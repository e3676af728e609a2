package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8192, cfg.Memory.CtxWindow)
	assert.Equal(t, 0.8, cfg.Memory.WarnFrac)
	assert.Equal(t, 0.95, cfg.Memory.FlushFrac)
	assert.Equal(t, 0.6, cfg.Memory.FlushTgtFrac)
	assert.Equal(t, 5, cfg.Memory.FIFOMin)
	assert.Equal(t, 10, cfg.Memory.OverthinkN)
	assert.Equal(t, "gpt-4", cfg.Memory.TokenizerModel)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "chromem", cfg.Vector.Provider)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1536, cfg.Embedder.Dimension)
	assert.Empty(t, cfg.LLM.Backends)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CTX_WINDOW", "32768")
	t.Setenv("WARN_FRAC", "0.7")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("POSTGRES_USER", "mk")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("SERVER_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 32768, cfg.Memory.CtxWindow)
	assert.Equal(t, 0.7, cfg.Memory.WarnFrac)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoadBackends(t *testing.T) {
	t.Setenv("LLM_API_BASE_URL", "http://localhost:8000/v1")
	t.Setenv("LLM_API_KEY", "k1")
	t.Setenv("LLM_MODELS", "qwen3-32b, qwen3-14b ,")
	t.Setenv("VLM_API_BASE_URL", "http://localhost:8001/v1")
	t.Setenv("VLM_MODELS", "qwen-vl")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.LLM.Backends, 2)
	assert.Equal(t, "llm", cfg.LLM.Backends[0].Name)
	assert.Equal(t, []string{"qwen3-32b", "qwen3-14b"}, cfg.LLM.Backends[0].Models)
	assert.Equal(t, "vlm", cfg.LLM.Backends[1].Name)
	assert.Equal(t, []string{"qwen-vl"}, cfg.LLM.Backends[1].Models)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CTX_WINDOW", "0")
	_, err := Load()
	assert.ErrorContains(t, err, "CTX_WINDOW")
}

func TestValidateFractions(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Memory.WarnFrac = 1.5
	assert.ErrorContains(t, cfg.Validate(), "WARN_FRAC")

	cfg.Memory.WarnFrac = 0.8
	cfg.Memory.FlushTgtFrac = 0.96
	assert.ErrorContains(t, cfg.Validate(), "FLUSH_TGT_FRAC")
}

func TestValidateDriverAndProvider(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Database.Driver = "oracle"
	assert.ErrorContains(t, cfg.Validate(), "DB_DRIVER")

	cfg.Database.Driver = "sqlite"
	cfg.Vector.Provider = "weaviate"
	assert.ErrorContains(t, cfg.Validate(), "VECTOR_PROVIDER")
}

func TestConnectionString(t *testing.T) {
	pg := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "mk", Password: "pw", Database: "memkeep",
	}
	assert.Equal(t, "postgres://mk:pw@db:5432/memkeep?sslmode=disable", pg.ConnectionString())

	my := DatabaseConfig{
		Driver: "mysql", Host: "db", Port: 3306,
		User: "mk", Password: "pw", Database: "memkeep",
	}
	assert.Equal(t, "mk:pw@tcp(db:3306)/memkeep?parseTime=true", my.ConnectionString())

	lite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/x.db"}
	assert.Equal(t, "/tmp/x.db", lite.ConnectionString())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Empty(t, unknown.ConnectionString())
}
