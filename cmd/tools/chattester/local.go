package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/camp-guide/backend/internal/analysis/criteria"
	"github.com/zhouzirui/camp-guide/backend/internal/analysis/intent"
	"github.com/zhouzirui/camp-guide/backend/internal/geo"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
	"github.com/zhouzirui/camp-guide/backend/internal/pkg/logger"
	"github.com/zhouzirui/camp-guide/backend/internal/repository/campdb"
	"github.com/zhouzirui/camp-guide/backend/internal/service/chat"
	"github.com/zhouzirui/camp-guide/backend/internal/service/profile"
	"github.com/zhouzirui/camp-guide/backend/internal/service/search"
	"github.com/zhouzirui/camp-guide/backend/internal/service/session"
)

var catalogPath string

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "在进程内运行对话引擎（YAML 目录 + 内存会话，无 AI）",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := buildLocal(cmd.Context())
		if err != nil {
			return err
		}
		return runScript(cmd, func(ctx context.Context, message, id string) (string, string, []byte, error) {
			resp, raw, err := localTurn(ctx, orch, message, id)
			return resp.Response, resp.SessionID, raw, err
		})
	},
}

func localTurn(ctx context.Context, orch *chat.Orchestrator, message, id string) (chat.TurnResponse, []byte, error) {
	resp, err := orch.HandleTurn(ctx, chat.TurnRequest{Message: message, SessionID: id})
	if err != nil {
		return chat.TurnResponse{}, nil, err
	}
	raw, err := json.Marshal(resp.Context)
	return resp, raw, err
}

func init() {
	localCmd.Flags().StringVar(&catalogPath, "catalog", "", "营地目录 YAML，留空使用内置种子数据")
}

func buildLocal(ctx context.Context) (*chat.Orchestrator, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{Level: level, Format: "console"})
	if err != nil {
		return nil, err
	}

	repo, err := campdb.LoadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	records, err := repo.Query(ctx, camp.FilterCriteria{})
	if err != nil {
		return nil, err
	}
	categories, err := repo.Categories(ctx)
	if err != nil {
		return nil, err
	}

	geocoder := geo.NewTableGeocoder()
	campdb.RegisterLocations(geocoder, records)
	parser := criteria.NewParser(criteria.Vocabulary{Categories: categories, Places: campdb.Places(records)})
	log.Debug("local catalog loaded", zap.Int("camps", len(records)))

	return chat.NewOrchestrator(chat.Deps{
		Sessions:   session.NewManager(session.NewMemoryStore(0, 0), log),
		Classifier: intent.NewClassifier(parser),
		Profile:    profile.NewFSM(repo, log),
		Search:     search.NewExecutor(repo, parser, geocoder, nil, search.Options{}, log),
		Categories: repo,
		Logger:     log,
	})
}
