// Command ingest parses bank statements from disk and stores their
// transactions for one user, without going through the HTTP upload path.
//
//	ingest -user <uuid> [-dry-run] [-policy strict] [-state .ingest_state.json] <file|dir>...
//
// Files whose content hash is already recorded in the state file are skipped,
// so re-running over the same directory only picks up new statements.
package main

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"statement-relay/internal/dto"
	"statement-relay/internal/models"
	"statement-relay/internal/parser"
	"statement-relay/internal/repository"
	"statement-relay/internal/service"
	"statement-relay/pkg/config"
	"statement-relay/pkg/logger"
	"statement-relay/pkg/postgres"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestedFile is one statement recorded in the state file.
type IngestedFile struct {
	FilePath     string    `json:"file_path"`
	FileHash     string    `json:"file_hash"`
	Transactions int       `json:"transactions"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// StateData maps a user to the statements already stored for them, keyed by
// file path.
type StateData struct {
	Users map[string]map[string]IngestedFile `json:"users"`
}

func main() {
	userFlag := flag.String("user", "", "owner of the ingested transactions (UUID)")
	dryRun := flag.Bool("dry-run", false, "parse and print transactions as JSON without storing them")
	policyFlag := flag.String("policy", "", "CSV row error policy: lenient or strict (default from CSV_ROW_POLICY)")
	stateFile := flag.String("state", ".ingest_state.json", "file recording already ingested statements")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest -user <uuid> [flags] <file|dir>...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Logger.Level, cfg.Logger.Format); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	appLogger := logger.Get()

	userID, err := uuid.Parse(*userFlag)
	if err != nil && !*dryRun {
		appLogger.Fatal("A valid -user is required", zap.String("user", *userFlag))
	}

	policy := cfg.Upload.RowPolicy
	if *policyFlag != "" {
		policy = *policyFlag
	}
	rowPolicy, err := parser.ParseRowErrorPolicy(policy)
	if err != nil {
		appLogger.Fatal("Invalid row policy", zap.Error(err))
	}

	extractor, err := service.NewTextExtractor(&cfg.Extraction, logger.Named("extraction"))
	if err != nil {
		appLogger.Fatal("Failed to initialize text extraction", zap.Error(err))
	}
	factory := parser.NewFactory(extractor, parser.Options{RowPolicy: rowPolicy}, logger.Named("parser"))

	files, err := collectFiles(flag.Args())
	if err != nil {
		appLogger.Fatal("Failed to list input files", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *dryRun {
		if err := printStatements(ctx, factory, files, os.Stdout, appLogger); err != nil {
			appLogger.Fatal("Dry run failed", zap.Error(err))
		}
		return
	}

	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	txService := service.NewTransactionService(
		repository.NewTransactionRepository(db, appLogger),
		nil,
		logger.Named("transactions"),
	)

	state, err := loadState(*stateFile)
	if err != nil {
		appLogger.Warn("Failed to load state, every file will be ingested", zap.Error(err))
		state = &StateData{Users: make(map[string]map[string]IngestedFile)}
	}

	stored := ingestStatements(ctx, factory, txService, userID, files, state, appLogger)

	if err := saveState(*stateFile, state); err != nil {
		appLogger.Warn("Failed to save state", zap.Error(err))
	}
	appLogger.Info("Ingestion finished", zap.Int("files", len(files)), zap.Int("transactions", stored))
}

// collectFiles expands directories into the statements they contain.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if _, known := parser.MimeTypeFromFileName(path); known && !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

func parseFile(ctx context.Context, factory *parser.Factory, path string) ([]*models.Transaction, error) {
	mimeType, ok := parser.MimeTypeFromFileName(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", parser.ErrUnsupportedFileType, filepath.Ext(path))
	}
	p, err := factory.ParserWithOptions(mimeType, parser.Options{FileName: filepath.Base(path)})
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read statement: %w", err)
	}
	return p.Parse(ctx, data)
}

func printStatements(ctx context.Context, factory *parser.Factory, files []string, out io.Writer, logger *zap.Logger) error {
	var all []*models.Transaction
	for _, path := range files {
		transactions, err := parseFile(ctx, factory, path)
		if err != nil {
			logger.Error("Failed to parse statement", zap.String("path", path), zap.Error(err))
			continue
		}
		all = append(all, transactions...)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(dto.NewTransactionResponses(all))
}

func ingestStatements(
	ctx context.Context,
	factory *parser.Factory,
	txService *service.TransactionService,
	userID uuid.UUID,
	files []string,
	state *StateData,
	logger *zap.Logger,
) int {
	seen := state.Users[userID.String()]
	if seen == nil {
		seen = make(map[string]IngestedFile)
		state.Users[userID.String()] = seen
	}

	stored := 0
	for _, path := range files {
		if ctx.Err() != nil {
			logger.Warn("Interrupted, remaining files skipped")
			break
		}

		fileHash, err := calculateFileHash(path)
		if err != nil {
			logger.Warn("Failed to calculate file hash, will ingest anyway", zap.String("path", path), zap.Error(err))
		}
		if prev, ok := seen[path]; ok && fileHash != "" && prev.FileHash == fileHash {
			logger.Info("Statement already ingested, skipping",
				zap.String("path", path),
				zap.Time("ingested_at", prev.IngestedAt),
			)
			continue
		}

		transactions, err := parseFile(ctx, factory, path)
		if err != nil {
			if errors.Is(err, parser.ErrEmptyResult) {
				logger.Warn("No transactions in statement", zap.String("path", path))
			} else {
				logger.Error("Failed to parse statement", zap.String("path", path), zap.Error(err))
			}
			continue
		}

		if err := txService.SaveParsed(ctx, userID, transactions); err != nil {
			logger.Error("Failed to store transactions", zap.String("path", path), zap.Error(err))
			continue
		}

		seen[path] = IngestedFile{
			FilePath:     path,
			FileHash:     fileHash,
			Transactions: len(transactions),
			IngestedAt:   time.Now(),
		}
		stored += len(transactions)
	}
	return stored
}

func loadState(stateFile string) (*StateData, error) {
	state := &StateData{Users: make(map[string]map[string]IngestedFile)}

	data, err := os.ReadFile(stateFile)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return state, nil
	}

	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if state.Users == nil {
		state.Users = make(map[string]map[string]IngestedFile)
	}
	return state, nil
}

func saveState(stateFile string, state *StateData) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(stateFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// calculateFileHash calculates MD5 hash of a file
func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
