package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"ivf-chat/handler"
	"ivf-chat/internal/chat"
	"ivf-chat/internal/format"
	"ivf-chat/internal/history"
	"ivf-chat/internal/integrations/chatapi"
	"ivf-chat/internal/integrations/paramstore"
	"ivf-chat/internal/repository"
	"ivf-chat/internal/repository/sqlitekv"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}

	// ---- Configuration (read only here) ----
	chatAPIURL := os.Getenv("CHAT_API_URL")
	paramPrefix := os.Getenv("PARAM_PREFIX")
	stateTable := os.Getenv("STATE_TABLE")
	historyDB := envString("HISTORY_DB", "chat-history.db")
	historyLimit := envInt("HISTORY_LIMIT", history.DefaultLimit)
	sanitize := envBool("SANITIZE_BOT_HTML", false)
	timeout := time.Duration(envInt("CHAT_TIMEOUT_SECONDS", 0)) * time.Second
	idleTTL := time.Duration(envInt("SESSION_IDLE_MINUTES", 0)) * time.Minute
	maxSessions := envInt("MAX_SESSIONS", chat.DefaultMaxSessions)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	clientOpts := []chatapi.Option{chatapi.WithTimeout(timeout)}
	if paramPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg), paramPrefix)
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		if chatAPIURL == "" {
			chatAPIURL, err = ssmClient.GetParameter(ctx, "chat-api-url")
			if err != nil {
				slog.Error("failed to load chat API URL", "err", err)
				os.Exit(1)
			}
		}
		clientOpts = append(clientOpts, chatapi.WithParamStoreToken(ssmClient))
	}
	if chatAPIURL == "" {
		slog.Error("required configuration is not set", "key", "CHAT_API_URL")
		os.Exit(1)
	}
	chatClient, err := chatapi.NewClient(chatAPIURL, clientOpts...)
	if err != nil {
		slog.Error("failed to create chat API client", "err", err)
		os.Exit(1)
	}

	var (
		kv    history.KeyValue
		lease chat.Lease
	)
	if stateTable != "" {
		dynamo, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
		if err != nil {
			slog.Error("failed to create state client", "err", err)
			os.Exit(1)
		}
		kv, lease = dynamo, dynamo
	} else {
		sqlite, err := sqlitekv.Open(historyDB)
		if err != nil {
			slog.Error("failed to open history database", "path", historyDB, "err", err)
			os.Exit(1)
		}
		defer sqlite.Close()
		kv, lease = sqlite, sqlite
	}
	leaseTTL := chat.DefaultLeaseTTL
	if timeout > 0 {
		leaseTTL = timeout + 30*time.Second
	}

	var renderOpts []format.Option
	if sanitize {
		renderOpts = append(renderOpts, format.WithSanitizer())
	}
	renderer := format.NewRenderer(renderOpts...)
	logger := slog.Default()

	// ---- Sessions ----
	registry, err := chat.NewRegistry(func(id string) (*chat.Session, error) {
		store, err := history.New(kv, history.SessionKey(id), history.WithLimit(historyLimit), history.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return chat.NewSession(id, chatClient, store, chat.Bindings{Logger: logger},
			chat.WithRenderer(renderer),
			chat.WithLease(lease, leaseTTL),
		)
	}, chat.WithIdleTTL(idleTTL), chat.WithMaxSessions(maxSessions))
	if err != nil {
		slog.Error("failed to create session registry", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(registry, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
