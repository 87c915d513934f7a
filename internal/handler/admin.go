package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/umoja-loans/loan-engine/internal/config"
	"github.com/umoja-loans/loan-engine/internal/domain"
	"github.com/umoja-loans/loan-engine/internal/repository"
	"github.com/umoja-loans/loan-engine/internal/service"
	"github.com/umoja-loans/loan-engine/pkg/response"
	"github.com/umoja-loans/loan-engine/pkg/utils"
)

// AdminHandler serves the paginated admin listings. Responses are cached in
// Redis briefly; listings tolerate slightly stale reads.
type AdminHandler struct {
	svc   *service.LoanService
	users repository.UserRepository
	txns  repository.TransactionRepository
	redis *redis.Client
	cfg   *config.Config
	log   *logrus.Logger
}

func NewAdminHandler(
	svc *service.LoanService,
	users repository.UserRepository,
	txns repository.TransactionRepository,
	redisClient *redis.Client,
	cfg *config.Config,
	log *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		svc:   svc,
		users: users,
		txns:  txns,
		redis: redisClient,
		cfg:   cfg,
		log:   log,
	}
}

// ListLoans returns the filtered, sorted, paginated loan listing.
// Query params: status, min_amount, max_amount, search, sort_by, order,
// page, limit. Default sort is application_date descending.
func (h *AdminHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.LoanFilter{
		Status:   q.Get("status"),
		Search:   q.Get("search"),
		SortBy:   q.Get("sort_by"),
		SortDesc: q.Get("order") != "asc",
		Page:     intParam(q.Get("page"), 1),
		Limit:    intParam(q.Get("limit"), 20),
	}
	if v := q.Get("min_amount"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			filter.MinAmount = &d
		}
	}
	if v := q.Get("max_amount"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			filter.MaxAmount = &d
		}
	}

	cacheKey := "admin:loans:" + q.Encode()
	if h.serveCached(r.Context(), w, cacheKey) {
		return
	}

	result, err := h.svc.ListLoans(r.Context(), filter)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.cacheAndServe(r.Context(), w, cacheKey, result)
}

// ListUsers returns the paginated user listing.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit := h.pageParams(r)

	cacheKey := fmt.Sprintf("admin:users:%d:%d", page, limit)
	if h.serveCached(r.Context(), w, cacheKey) {
		return
	}

	users, total, err := h.users.List(r.Context(), page, limit)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.cacheAndServe(r.Context(), w, cacheKey, map[string]interface{}{
		"data":       users,
		"pagination": pagination(page, limit, total),
	})
}

// ListWallets returns the paginated wallet listing.
func (h *AdminHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	page, limit := h.pageParams(r)

	cacheKey := fmt.Sprintf("admin:wallets:%d:%d", page, limit)
	if h.serveCached(r.Context(), w, cacheKey) {
		return
	}

	wallets, total, err := h.users.ListWallets(r.Context(), page, limit)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.cacheAndServe(r.Context(), w, cacheKey, map[string]interface{}{
		"data":       wallets,
		"pagination": pagination(page, limit, total),
	})
}

// ListTransactions returns the paginated transaction listing with optional
// type and status filters.
func (h *AdminHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := h.pageParams(r)

	filter := domain.TransactionFilter{
		Type:   q.Get("type"),
		Status: q.Get("status"),
		Page:   page,
		Limit:  limit,
	}

	cacheKey := "admin:transactions:" + q.Encode()
	if h.serveCached(r.Context(), w, cacheKey) {
		return
	}

	txns, total, err := h.txns.List(r.Context(), filter)
	if err != nil {
		response.FromError(w, err)
		return
	}

	h.cacheAndServe(r.Context(), w, cacheKey, domain.TransactionListResponse{
		Data:       txns,
		Pagination: pagination(page, limit, total),
	})
}

func (h *AdminHandler) pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	page, limit, _ := utils.PageBounds(
		intParam(q.Get("page"), 1),
		intParam(q.Get("limit"), 20),
		h.cfg.Business.MaxPageSize,
	)
	return page, limit
}

func (h *AdminHandler) serveCached(ctx context.Context, w http.ResponseWriter, key string) bool {
	if h.redis == nil {
		return false
	}
	cached, err := h.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}

	var data json.RawMessage = []byte(cached)
	response.Success(w, data)
	return true
}

func (h *AdminHandler) cacheAndServe(ctx context.Context, w http.ResponseWriter, key string, data interface{}) {
	if h.redis != nil {
		if raw, err := json.Marshal(data); err == nil {
			if err := h.redis.Set(ctx, key, raw, h.cfg.AdminCacheTTL()).Err(); err != nil {
				h.log.Warnf("admin cache set failed: %v", err)
			}
		}
	}
	response.Success(w, data)
}

func pagination(page, limit, total int) domain.Pagination {
	return domain.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: utils.TotalPages(total, limit),
	}
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
