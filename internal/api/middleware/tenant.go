package middleware

import (
	"context"
	"database/sql"
	"net/http"

	apiContext "mailflow/internal/api/context"
	"mailflow/internal/pkg/errors"
	"mailflow/internal/platform/auth"
	"mailflow/internal/platform/database"
	"mailflow/internal/platform/repositories"
)

// TenantContext carries the resolved workspace and its database handle for
// the rest of the request.
type TenantContext struct {
	WorkspaceID   string
	WorkspaceSlug string
	DB            *sql.DB
}

type TenantMiddleware struct {
	workspaceRepo *repositories.WorkspaceRepository
	dbPool        *database.TenantDBPool
}

func NewTenantMiddleware(workspaceRepo *repositories.WorkspaceRepository, dbPool *database.TenantDBPool) *TenantMiddleware {
	return &TenantMiddleware{
		workspaceRepo: workspaceRepo,
		dbPool:        dbPool,
	}
}

func (m *TenantMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
		if !ok {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
			return
		}

		ws, err := m.workspaceRepo.GetByID(claims.WorkspaceID)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load workspace", nil)
			return
		}
		if ws == nil {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Workspace not found", nil)
			return
		}

		db, err := m.dbPool.Get(ws.ID, ws.DBFilePath)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to connect to workspace database", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Tenant, &TenantContext{
			WorkspaceID:   ws.ID,
			WorkspaceSlug: ws.Slug,
			DB:            db,
		})

		next(w, r.WithContext(ctx))
	}
}
