// Package app wires the services and routes API Gateway requests to handlers.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jun/docrag/backend/internal/adapter"
	"github.com/jun/docrag/backend/internal/adapter/dropbox"
	"github.com/jun/docrag/backend/internal/adapter/googledrive"
	"github.com/jun/docrag/backend/internal/adapter/memory"
	"github.com/jun/docrag/backend/internal/adapter/onedrive"
	"github.com/jun/docrag/backend/internal/auth"
	"github.com/jun/docrag/backend/internal/chunker"
	"github.com/jun/docrag/backend/internal/config"
	"github.com/jun/docrag/backend/internal/crypto"
	"github.com/jun/docrag/backend/internal/extract"
	"github.com/jun/docrag/backend/internal/handler"
	"github.com/jun/docrag/backend/internal/ingest"
	"github.com/jun/docrag/backend/internal/lease"
	"github.com/jun/docrag/backend/internal/llm"
	"github.com/jun/docrag/backend/internal/logger"
	"github.com/jun/docrag/backend/internal/markdown"
	"github.com/jun/docrag/backend/internal/model"
	"github.com/jun/docrag/backend/internal/rag"
	"github.com/jun/docrag/backend/internal/ragsync"
	"github.com/jun/docrag/backend/internal/secret"
	"github.com/jun/docrag/backend/internal/sources"
	"github.com/jun/docrag/backend/internal/store"
	storememory "github.com/jun/docrag/backend/internal/store/memory"
	"github.com/jun/docrag/backend/internal/store/postgres"
	"github.com/jun/docrag/backend/internal/tracking"
)

// App holds the dependencies for the Lambda function.
type App struct {
	ragHandler     *handler.RAGHandler
	syncHandler    *handler.SyncHandler
	sourceHandler  *handler.SourceHandler
	trackedHandler *handler.TrackedHandler
	indexHandler   *handler.IndexHandler

	devMode          bool
	frontendURL      string
	apiGatewaySecret string
	log              *logger.Logger
	closers          []io.Closer
}

type repositories struct {
	sources       store.SourceRepository
	tracked       store.TrackedFileRepository
	processed     store.ProcessedFileRepository
	vectors       store.VectorRepository
	conversations store.ConversationRepository
}

// NewApp loads the configuration and builds the application. It panics when
// a required dependency cannot be created.
func NewApp(ctx context.Context) *App {
	cfg := config.Load()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(fmt.Sprintf("unable to create logger, %v", err))
	}
	a, err := New(ctx, cfg, log)
	if err != nil {
		panic(fmt.Sprintf("unable to initialize app, %v", err))
	}
	return a
}

// New builds the application from cfg. DEV_MODE runs on in-memory stores,
// the mock encryptor and environment secrets; otherwise Postgres, SSM, KMS
// and DynamoDB are used.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{devMode: cfg.DevMode, frontendURL: cfg.FrontendURL, log: log}

	var (
		resolver secret.Resolver
		repos    repositories
		enc      crypto.Encryptor
		locker   lease.Locker
	)
	registry := adapter.NewRegistry().
		Register(model.ProviderGoogleDrive, googledrive.NewProvider()).
		Register(model.ProviderDropbox, dropbox.NewProvider()).
		Register(model.ProviderOneDrive, onedrive.NewProvider())

	if cfg.DevMode {
		log.Info("Using in-memory stores, MockEncryptor and EnvResolver (DEV_MODE=true)")
		resolver = secret.NewEnvResolver()
		db := storememory.New()
		repos = repositories{db.Sources, db.TrackedFiles, db.ProcessedFiles, db.Vectors, db.Conversations}
		enc = crypto.NewMockEncryptor()
		locker = lease.NewMemoryLocker(cfg.SyncLeaseTTL)
		// Demo source for local sources without a cloud account.
		registry.Register(model.ProviderLocal, memory.NewProvider())
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		resolver = secret.NewCachingResolver(secret.NewSSMResolver(ssm.NewFromConfig(awsCfg)))

		dsn := cfg.DatabaseURL
		if dsn == "" {
			if dsn, err = resolver.GetSecret(ctx, secret.DatabaseURL); err != nil {
				return nil, fmt.Errorf("resolve database url: %w", err)
			}
		}
		db, err := postgres.Open(ctx, dsn, cfg.EmbeddingDim)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db)
		repos = repositories{db.Sources(), db.TrackedFiles(), db.ProcessedFiles(), db.Vectors(), db.Conversations()}

		if enc, err = credentialKey(ctx, cfg, resolver, kms.NewFromConfig(awsCfg)); err != nil {
			return nil, err
		}
		if cfg.SyncLeaseTable != "" {
			locker = lease.NewDynamoLocker(dynamodb.NewFromConfig(awsCfg), cfg.SyncLeaseTable, cfg.SyncLeaseTTL)
			log.Info("Using DynamoDB sync lease", "table", cfg.SyncLeaseTable)
		}
	}

	jwtSecret, err := resolver.GetSecret(ctx, secret.JWTSecret)
	if err != nil {
		log.Warn("Failed to resolve JWT secret, using default", "error", err)
		jwtSecret = "default-dev-secret"
	}
	if !cfg.DevMode {
		if a.apiGatewaySecret, err = resolver.GetSecret(ctx, secret.APIGatewaySecret); err != nil {
			log.Warn("Failed to resolve API gateway secret", "error", err)
		}
	}

	chat, embeddings, closer, err := llm.New(ctx, llm.Config{
		Provider:       cfg.LLMProvider,
		APIKey:         secret.GetOr(ctx, resolver, secret.LLMAPIKey, ""),
		BaseURL:        cfg.LLMBaseURL,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create LLM clients: %w", err)
	}
	a.closers = append(a.closers, closer)

	srcSvc := sources.NewService(repos.sources, registry, enc, auth.NewOAuthRefresher(), log)
	ingestSvc := ingest.NewService(
		srcSvc,
		extract.NewRegistry(),
		chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		embeddings,
		repos.vectors,
		repos.processed,
		cfg.TmpDir,
		log,
	)
	trackingSvc := tracking.NewService(repos.tracked, srcSvc, ingestSvc, log)
	orch := ragsync.NewOrchestrator(repos.tracked, srcSvc, ingestSvc, locker, ragsync.Config{
		PendingBatch:   cfg.SyncPendingBatch,
		MaxFilesPerRun: cfg.SyncMaxFiles,
		MaxLogs:        cfg.SyncMaxLogs,
	}, log)
	limits := rag.DefaultLimits
	if cfg.WeakMatchChars > 0 {
		limits.WeakMatchChars = cfg.WeakMatchChars
	}
	if cfg.FullDocumentSections > 0 {
		limits.FullDocumentSections = cfg.FullDocumentSections
	}
	if cfg.FullDocumentChars > 0 {
		limits.FullDocumentChars = cfg.FullDocumentChars
	}
	ragSvc := rag.NewService(repos.conversations, repos.vectors, chat, embeddings, rag.Config{
		K: rag.KTable{
			FullDocument: cfg.KFullDocument,
			Comparison:   cfg.KComparison,
			Long:         cfg.KLong,
			Default:      cfg.KDefault,
		},
		Limits: limits,
	}, log)

	a.ragHandler = handler.NewRAGHandler(ragSvc, markdown.NewRenderer(), jwtSecret, log)
	a.syncHandler = handler.NewSyncHandler(orch, jwtSecret)
	a.sourceHandler = handler.NewSourceHandler(srcSvc, ingestSvc, jwtSecret, log)
	a.trackedHandler = handler.NewTrackedHandler(trackingSvc, jwtSecret, log)
	a.indexHandler = handler.NewIndexHandler(ingestSvc, cfg.DocumentsDir, jwtSecret, log)
	return a, nil
}

// credentialKey builds the AES encryptor for source credentials, unwrapping
// the key with KMS when a wrapped key is configured.
func credentialKey(ctx context.Context, cfg *config.Config, resolver secret.Resolver, kmsClient crypto.KMSClient) (crypto.Encryptor, error) {
	if cfg.EncryptionKeyKMSCiphertext != "" {
		svc, err := crypto.UnwrapKey(ctx, crypto.NewKMSService(kmsClient, cfg.KMSKeyID), cfg.EncryptionKeyKMSCiphertext)
		if err != nil {
			return nil, fmt.Errorf("unwrap encryption key: %w", err)
		}
		return svc, nil
	}
	key, err := resolver.GetSecret(ctx, secret.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("resolve encryption key: %w", err)
	}
	svc, err := crypto.NewAESService(key)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// Close releases the database and model clients.
func (app *App) Close() error {
	var first error
	for _, c := range app.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	app.log.Debug("Request", "method", method, "path", req.Path)

	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Only CloudFront knows the origin secret.
	if !app.devMode {
		if req.Headers["X-Origin-Verify"] != app.apiGatewaySecret && req.Headers["x-origin-verify"] != app.apiGatewaySecret {
			app.log.Warn("Security block: missing or invalid X-Origin-Verify header", "path", req.Path)
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusForbidden,
				Body:       "Forbidden: Access denied",
			}, nil
		}
	}

	path := strings.TrimPrefix(req.Path, "/api")
	if req.PathParameters == nil {
		req.PathParameters = make(map[string]string)
	}
	if req.QueryStringParameters == nil {
		req.QueryStringParameters = make(map[string]string)
	}

	route := app.route(method, strings.Split(strings.Trim(path, "/"), "/"), req.PathParameters)
	if route == nil {
		return app.corsResponse(events.APIGatewayProxyResponse{
			StatusCode: http.StatusNotFound,
			Body:       fmt.Sprintf("Not Found: %s %s", method, path),
		}), nil
	}
	return app.corsResponse(app.must(route(ctx, req))), nil
}

type handlerFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// route resolves a handler and fills params from the path segments.
func (app *App) route(method string, parts []string, params map[string]string) handlerFunc {
	switch parts[0] {
	case "rag":
		switch {
		case len(parts) == 2 && parts[1] == "ask" && method == http.MethodPost:
			return app.ragHandler.Ask
		case len(parts) == 2 && parts[1] == "stats" && method == http.MethodGet:
			return app.indexHandler.Stats
		case len(parts) == 2 && parts[1] == "index" && method == http.MethodDelete:
			return app.indexHandler.Clear
		case len(parts) == 2 && parts[1] == "process-directory" && method == http.MethodPost:
			return app.indexHandler.ProcessDirectory
		}

	case "conversations":
		if len(parts) == 1 {
			switch method {
			case http.MethodGet:
				return app.ragHandler.ListConversations
			case http.MethodPost:
				return app.ragHandler.CreateConversation
			}
			return nil
		}
		params["id"] = parts[1]
		switch {
		case len(parts) == 3 && parts[2] == "messages" && method == http.MethodGet:
			return app.ragHandler.History
		case len(parts) == 2 && method == http.MethodPatch:
			return app.ragHandler.RenameConversation
		case len(parts) == 2 && method == http.MethodDelete:
			return app.ragHandler.DeleteConversation
		}

	case "sync":
		switch {
		case len(parts) == 2 && parts[1] == "run" && method == http.MethodPost:
			return app.syncHandler.Run
		case len(parts) == 2 && parts[1] == "status" && method == http.MethodGet:
			return app.syncHandler.Status
		case len(parts) == 2 && parts[1] == "logs" && method == http.MethodGet:
			return app.syncHandler.Logs
		}

	case "sources":
		if len(parts) == 1 {
			switch method {
			case http.MethodGet:
				return app.sourceHandler.ListSources
			case http.MethodPost:
				return app.sourceHandler.CreateSource
			}
			return nil
		}
		params["sourceId"] = parts[1]
		switch {
		case len(parts) == 2 && method == http.MethodDelete:
			return app.sourceHandler.DeleteSource
		case len(parts) == 3 && parts[2] == "files" && method == http.MethodGet:
			return app.sourceHandler.ListFiles
		case len(parts) == 5 && parts[2] == "files" && parts[4] == "process" && method == http.MethodPost:
			params["fileId"] = parts[3]
			return app.sourceHandler.ProcessFile
		case len(parts) == 3 && parts[2] == "tracked" && method == http.MethodGet:
			return app.trackedHandler.List
		case len(parts) == 3 && parts[2] == "tracked" && method == http.MethodPost:
			return app.trackedHandler.Track
		}

	case "tracked":
		if len(parts) < 2 {
			return nil
		}
		params["id"] = parts[1]
		switch {
		case len(parts) == 2 && method == http.MethodDelete:
			return app.trackedHandler.Untrack
		case len(parts) == 3 && parts[2] == "unrag" && method == http.MethodPost:
			return app.trackedHandler.Unrag
		case len(parts) == 3 && parts[2] == "retry" && method == http.MethodPost:
			return app.trackedHandler.Retry
		}

	case "files":
		if len(parts) == 2 && method == http.MethodGet {
			params["name"] = parts[1]
			return app.indexHandler.ServeFile
		}
	}
	return nil
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.frontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,DELETE,OPTIONS,PATCH"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}

// must unwraps a handler response, turning an error into a 500.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.log.Error("Handler error", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return resp
}
