package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/camp-guide/backend/internal/repository/campdb"
	"github.com/zhouzirui/camp-guide/backend/pkg/utils"
)

// Handler 营地目录的只读接口
type Handler struct {
	repo   campdb.Repository
	logger *zap.Logger
}

// New 创建目录处理器
func New(repo campdb.Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger.Named("catalog")}
}

// RegisterRoutes 注册目录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/categories", h.handleCategories)
	r.Get("/camps/{campID}", h.handleCamp)
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.repo.Categories(r.Context())
	if err != nil {
		h.logger.Error("list categories failed", zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "camp database unavailable")
		return
	}
	if cats == nil {
		cats = []string{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"categories": cats})
}

func (h *Handler) handleCamp(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "campID"), 10, 64)
	if err != nil || id <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "camp id must be a positive integer")
		return
	}

	record, err := h.repo.FindByID(r.Context(), id)
	switch {
	case errors.Is(err, campdb.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "camp not found")
	case err != nil:
		h.logger.Error("find camp failed", zap.Int64("id", id), zap.Error(err))
		utils.RespondError(w, http.StatusServiceUnavailable, "camp database unavailable")
	default:
		utils.RespondJSON(w, http.StatusOK, record)
	}
}
