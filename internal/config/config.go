package config

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

// LLMConfig points at an OpenAI-compatible completion server (vLLM).
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK int
}

// IngestConfig names the bootstrap inputs. Empty values skip that input.
type IngestConfig struct {
	TransactionsCSV string
	CorpusDir       string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 8800,
		},
		LLM: LLMConfig{
			BaseURL: "http://localhost:8000/v1",
			Model:   "openai/gpt-oss-20b",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend
// ($XDG_CONFIG_HOME/fraudqa/config.json), then applies FRAUDQA_* environment
// overrides, then resolves the vLLM API key from the secrets file if it is
// still empty. The API key is optional: vLLM servers commonly run without
// authentication.
func Load() (Config, error) {
	return loadWith(newFileBackend(), NewSecrets())
}

// secretGetter abstracts secret lookup for testing.
type secretGetter interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, sec secretGetter) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		if key, err := sec.Get(serviceName, "llm_api_key"); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}

	return cfg, nil
}
